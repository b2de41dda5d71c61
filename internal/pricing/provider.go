package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrWindowNotFound indicates the pricing window id is unknown.
	ErrWindowNotFound = errors.New("pricing: window not found")
	// ErrRateNotFound indicates no margin rate is published for the product in the window.
	ErrRateNotFound = errors.New("pricing: margin rate not found")
)

// Window is a published pricing window with its calendar bounds.
type Window struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Component is a single price build-up line applicable in a window.
type Component struct {
	Code     string
	Name     string
	Category string
	Product  string
	// Rate is the unit rate per litre.
	Rate decimal.Decimal
}

// DealerMarginCategory marks the build-up component that accrues to the dealer.
const DealerMarginCategory = "dealer_margin"

// Provider resolves pricing windows and dealer margin rates.
type Provider interface {
	// WindowDates returns the calendar bounds of a pricing window.
	WindowDates(ctx context.Context, windowID string) (Window, error)
	// MarginRate returns the dealer margin per litre for a product in a window.
	MarginRate(ctx context.Context, productID, windowID string) (decimal.Decimal, error)
	// Components returns all build-up components published for a window.
	Components(ctx context.Context, windowID string) ([]Component, error)
}
