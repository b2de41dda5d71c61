package accrual

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Cumulative is the running window total carried across accrual days.
type Cumulative struct {
	Litres decimal.Decimal
	Margin decimal.Decimal
}

// Repository persists margin accruals.
type Repository interface {
	GetByID(ctx context.Context, id string) (*MarginAccrual, error)
	ListByStationDate(ctx context.Context, stationID string, date time.Time) ([]*MarginAccrual, error)
	ListByStationWindow(ctx context.Context, stationID, windowID string) ([]*MarginAccrual, error)
	ListByStationSince(ctx context.Context, stationID string, from time.Time) ([]*MarginAccrual, error)

	// LatestCumulative returns the most recent window running totals for a
	// product strictly before the given date. Zero totals when none exist.
	LatestCumulative(ctx context.Context, stationID, productID, windowID string, before time.Time) (Cumulative, error)

	// Replace atomically removes Pending/Accrued rows for the
	// (station, date, window) key and inserts the given rows. Rows past
	// Accrued for the key make the whole call fail with ErrAlreadyProcessed.
	Replace(ctx context.Context, stationID string, date time.Time, windowID string, accruals []*MarginAccrual) error

	// Update persists adjustment changes to a single accrual.
	Update(ctx context.Context, accrual *MarginAccrual) error

	// MarkPosted flips Accrued rows of a (station, window) to PostedToGL,
	// stamping the shared journal entry. Returns the number of rows posted.
	MarkPosted(ctx context.Context, stationID, windowID, journalEntryID, glAccount, costCenter string, at time.Time) (int, error)
}
