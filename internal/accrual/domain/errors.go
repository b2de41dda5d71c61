package accrual

import "errors"

var (
	// ErrValidation is returned when batch input fails validation.
	ErrValidation = errors.New("accrual: invalid input")
	// ErrAlreadyProcessed is returned when the target rows are past reprocessing.
	ErrAlreadyProcessed = errors.New("accrual: already processed")
	// ErrAccrualNotFound is returned when no accrual matches.
	ErrAccrualNotFound = errors.New("accrual: not found")
	// ErrNilAccrual is returned when operating on a nil accrual.
	ErrNilAccrual = errors.New("accrual: nil accrual")
)
