package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StaticProvider serves windows and rates from an in-memory table.
type StaticProvider struct {
	windows    map[string]Window
	components map[string][]Component
}

// NewStaticProvider constructs a provider from a fixed set of windows.
func NewStaticProvider(windows []Window) (*StaticProvider, error) {
	p := &StaticProvider{
		windows:    make(map[string]Window, len(windows)),
		components: make(map[string][]Component),
	}
	for _, w := range windows {
		if w.ID == "" {
			return nil, errors.New("pricing: empty window id")
		}
		if !w.End.After(w.Start) {
			return nil, errors.New("pricing: window end not after start")
		}
		p.windows[w.ID] = w
	}
	return p, nil
}

// AddComponent publishes a build-up component for a window.
func (p *StaticProvider) AddComponent(windowID string, c Component) error {
	if _, ok := p.windows[windowID]; !ok {
		return ErrWindowNotFound
	}
	if c.Rate.IsNegative() {
		return errors.New("pricing: negative component rate")
	}
	p.components[windowID] = append(p.components[windowID], c)
	return nil
}

// CurrentWindowID returns the window covering the date. The latest
// start wins when windows overlap.
func (p *StaticProvider) CurrentWindowID(ctx context.Context, date time.Time) (string, error) {
	_ = ctx
	var best Window
	found := false
	for _, w := range p.windows {
		if date.Before(w.Start) || date.After(w.End) {
			continue
		}
		if !found || w.Start.After(best.Start) {
			best = w
			found = true
		}
	}
	if !found {
		return "", ErrWindowNotFound
	}
	return best.ID, nil
}

// WindowDates returns the bounds of a configured window.
func (p *StaticProvider) WindowDates(ctx context.Context, windowID string) (Window, error) {
	_ = ctx
	w, ok := p.windows[windowID]
	if !ok {
		return Window{}, ErrWindowNotFound
	}
	return w, nil
}

// MarginRate returns the dealer margin component rate for a product.
func (p *StaticProvider) MarginRate(ctx context.Context, productID, windowID string) (decimal.Decimal, error) {
	_ = ctx
	if _, ok := p.windows[windowID]; !ok {
		return decimal.Zero, ErrWindowNotFound
	}
	for _, c := range p.components[windowID] {
		if c.Category == DealerMarginCategory && c.Product == productID {
			return c.Rate, nil
		}
	}
	return decimal.Zero, ErrRateNotFound
}

// Components returns the build-up lines published for a window.
func (p *StaticProvider) Components(ctx context.Context, windowID string) ([]Component, error) {
	_ = ctx
	if _, ok := p.windows[windowID]; !ok {
		return nil, ErrWindowNotFound
	}
	out := make([]Component, len(p.components[windowID]))
	copy(out, p.components[windowID])
	return out, nil
}
