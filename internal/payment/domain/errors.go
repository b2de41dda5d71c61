package payment

import "errors"

var (
	// ErrBatchNotFound is returned when no batch matches.
	ErrBatchNotFound = errors.New("payment: batch not found")
	// ErrBatchNotExecutable is returned when a batch is past execution.
	ErrBatchNotExecutable = errors.New("payment: batch not executable")
	// ErrNilBatch is returned when saving a nil batch.
	ErrNilBatch = errors.New("payment: nil batch")
	// ErrNoEligibleSettlements is returned when planning finds nothing to pay.
	ErrNoEligibleSettlements = errors.New("payment: no eligible settlements")
)
