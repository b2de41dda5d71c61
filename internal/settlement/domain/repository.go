package settlement

import (
	"context"

	"dealerpay/internal/loan"
)

// Repository persists dealer settlements. Multi-table methods are
// transactional: either everything lands or nothing does.
type Repository interface {
	GetByID(ctx context.Context, id string) (*DealerSettlement, error)
	FindByStationWindow(ctx context.Context, stationID, windowID string) (*DealerSettlement, error)
	ListByStatus(ctx context.Context, status string) ([]*DealerSettlement, error)

	// SaveCalculated upserts a Calculated settlement and flips the consumed
	// accruals to Settled in the same transaction. An existing row past
	// Calculated fails with ErrAlreadyProcessed.
	SaveCalculated(ctx context.Context, s *DealerSettlement, consumedAccrualIDs []string) error

	// Transition persists the settlement where the stored status still
	// equals from; a mismatch fails with ErrInvalidStateTransition.
	Transition(ctx context.Context, s *DealerSettlement, from string) error

	// MarkPaid persists the Paid settlement and applies the loan waterfall
	// allocations in the same transaction, gated on Approved.
	MarkPaid(ctx context.Context, s *DealerSettlement, allocations []loan.Allocation) error
}
