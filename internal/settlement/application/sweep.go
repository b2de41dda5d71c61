package application

import (
	"context"
	"errors"
	"log"
	"time"

	settlement "dealerpay/internal/settlement/domain"
)

// WindowResolver maps a date to the pricing window covering it.
type WindowResolver interface {
	CurrentWindowID(ctx context.Context, date time.Time) (string, error)
}

// Sweep recalculates settlements for every configured station on a
// weekly schedule.
type Sweep struct {
	lifecycle *Lifecycle
	windows   WindowResolver
	tenantID  string
	stations  []string
	weekday   time.Weekday
	at        string
	logger    *log.Logger
}

// NewSweep constructs the weekly settlement sweep.
func NewSweep(lifecycle *Lifecycle, windows WindowResolver, tenantID string, stations []string, weekday time.Weekday, at string, logger *log.Logger) *Sweep {
	return &Sweep{
		lifecycle: lifecycle,
		windows:   windows,
		tenantID:  tenantID,
		stations:  stations,
		weekday:   weekday,
		at:        at,
		logger:    logger,
	}
}

// Start begins the sweep loop.
func (s *Sweep) Start(ctx context.Context) {
	if s == nil || s.lifecycle == nil || s.windows == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.RunOnce(ctx, now.UTC())
		}
	}
}

// RunOnce settles the current window for every station, isolating
// failures. Stations already past Calculated are counted as skipped.
func (s *Sweep) RunOnce(ctx context.Context, now time.Time) (successful, skipped, failed int) {
	windowID, err := s.windows.CurrentWindowID(ctx, now)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("settlement sweep: resolve window: %v", err)
		}
		return 0, 0, len(s.stations)
	}

	for _, stationID := range s.stations {
		if stationID == "" {
			continue
		}
		_, err := s.lifecycle.CreateOrRecalculate(ctx, s.tenantID, stationID, windowID)
		switch {
		case err == nil:
			successful++
		case errors.Is(err, settlement.ErrAlreadyProcessed), errors.Is(err, settlement.ErrNoAccrualData):
			skipped++
		default:
			failed++
			if s.logger != nil {
				s.logger.Printf("settlement sweep: station=%s window=%s: %v", stationID, windowID, err)
			}
		}
	}
	return successful, skipped, failed
}

func (s *Sweep) shouldRun(now time.Time) bool {
	if now.Weekday() != s.weekday {
		return false
	}
	t, err := time.Parse("15:04", s.at)
	if err != nil {
		return false
	}
	return now.Hour() == t.Hour() && now.Minute() == t.Minute()
}
