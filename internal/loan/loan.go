// Package loan holds dealer loan balances and the repayment waterfall
// used when settlements are paid out.
package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// DealerLoan is an amortizing loan advanced to a dealer, repaid by
// deduction from settlement payouts.
type DealerLoan struct {
	ID        string
	TenantID  string
	StationID string

	Principal          decimal.Decimal
	OutstandingBalance decimal.Decimal
	// AnnualRate is the nominal annual interest rate, e.g. 0.18 for 18%.
	AnnualRate  decimal.Decimal
	TenorMonths int
	StartDate   time.Time

	Status          string
	TotalPaid       decimal.Decimal
	PaymentsMade    int
	LastPaymentDate time.Time
	CompletionDate  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the loan still carries a balance.
func (l *DealerLoan) Active() bool {
	return l.Status == StatusActive && l.OutstandingBalance.IsPositive()
}

// ApplyPayment reduces the balance by the applied amount and completes
// the loan when it reaches zero.
func (l *DealerLoan) ApplyPayment(applied decimal.Decimal, at time.Time) {
	l.OutstandingBalance = l.OutstandingBalance.Sub(applied)
	l.TotalPaid = l.TotalPaid.Add(applied)
	l.PaymentsMade++
	l.LastPaymentDate = at
	l.UpdatedAt = at
	if !l.OutstandingBalance.IsPositive() {
		l.OutstandingBalance = decimal.Zero
		l.Status = StatusCompleted
		l.CompletionDate = at
	}
}

// Clone returns a detached copy.
func (l *DealerLoan) Clone() *DealerLoan {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}
