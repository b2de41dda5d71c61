package settlement

import "errors"

var (
	// ErrNoAccrualData is returned when a window has nothing accrued.
	ErrNoAccrualData = errors.New("settlement: no accrual data in period")
	// ErrSettlementNotFound is returned when no settlement matches.
	ErrSettlementNotFound = errors.New("settlement: not found")
	// ErrAlreadyProcessed is returned when a settlement is past recalculation.
	ErrAlreadyProcessed = errors.New("settlement: already processed")
	// ErrInvalidStateTransition is returned on a lifecycle violation.
	ErrInvalidStateTransition = errors.New("settlement: invalid state transition")
	// ErrNilSettlement is returned when saving a nil settlement.
	ErrNilSettlement = errors.New("settlement: nil settlement")
)
