package loan

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLoanNotFound is returned when no loan matches.
	ErrLoanNotFound = errors.New("loan: not found")
	// ErrNilLoan is returned when saving a nil loan.
	ErrNilLoan = errors.New("loan: nil loan")
)

// Repository persists dealer loans.
type Repository interface {
	GetByID(ctx context.Context, id string) (*DealerLoan, error)
	// ListActiveByStation returns active loans ordered by start date.
	ListActiveByStation(ctx context.Context, stationID string) ([]*DealerLoan, error)
	Save(ctx context.Context, l *DealerLoan) error
	// ApplyAllocations persists waterfall allocations to loan balances.
	ApplyAllocations(ctx context.Context, allocations []Allocation, at time.Time) error
}
