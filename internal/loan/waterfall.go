package loan

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	one    = decimal.NewFromInt(1)
	twelve = decimal.NewFromInt(12)
)

// Installment is the amount due on a loan for one settlement period.
type Installment struct {
	LoanID    string
	Amount    decimal.Decimal
	Interest  decimal.Decimal
	Principal decimal.Decimal
	// Number is the reporting-only installment sequence, payments made
	// so far plus one.
	Number int
}

// InstallmentDue computes the current installment on a loan using the
// standard amortization formula over the remaining months. Zero-rate
// loans amortize linearly. The amount never exceeds the balance.
func InstallmentDue(l *DealerLoan) Installment {
	due := Installment{LoanID: l.ID, Number: l.PaymentsMade + 1}
	if !l.Active() {
		return due
	}

	balance := l.OutstandingBalance
	n := remainingMonths(l)
	monthly := l.AnnualRate.DivRound(twelve, 10)

	if monthly.IsZero() {
		due.Amount = balance.DivRound(decimal.NewFromInt(int64(n)), 2)
		due.Principal = due.Amount
	} else {
		// installment = B * r / (1 - (1+r)^-n)
		growth := one.Add(monthly).Pow(decimal.NewFromInt(int64(n)))
		denominator := one.Sub(one.DivRound(growth, 10))
		due.Amount = balance.Mul(monthly).DivRound(denominator, 2)
		due.Interest = balance.Mul(monthly).Round(2)
		due.Principal = due.Amount.Sub(due.Interest)
		if due.Principal.IsNegative() {
			due.Principal = decimal.Zero
		}
	}
	if due.Amount.GreaterThan(balance) {
		due.Amount = balance
		due.Principal = balance.Sub(due.Interest)
		if due.Principal.IsNegative() {
			due.Principal = decimal.Zero
		}
	}
	return due
}

// remainingMonths estimates how many installments are left from the
// share of principal still outstanding, never below one.
func remainingMonths(l *DealerLoan) int {
	if l.TenorMonths <= 0 || !l.Principal.IsPositive() {
		return 1
	}
	share := l.OutstandingBalance.DivRound(l.Principal, 10)
	months := share.Mul(decimal.NewFromInt(int64(l.TenorMonths))).Ceil().IntPart()
	if months < 1 {
		return 1
	}
	if months > int64(l.TenorMonths) {
		return l.TenorMonths
	}
	return int(months)
}

// Allocation is one loan's share of a repayment pool.
type Allocation struct {
	LoanID     string
	Applied    decimal.Decimal
	NewBalance decimal.Decimal
	Completed  bool
}

// AllocateRepayment distributes a repayment pool across loans oldest
// first, applying min(remaining pool, balance) to each. The passed loans
// are updated in place; persistence is the caller's concern.
func AllocateRepayment(loans []*DealerLoan, pool decimal.Decimal, at time.Time) []Allocation {
	sorted := make([]*DealerLoan, len(loans))
	copy(sorted, loans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})

	var out []Allocation
	remaining := pool
	for _, l := range sorted {
		if !remaining.IsPositive() {
			break
		}
		if !l.Active() {
			continue
		}
		applied := decimal.Min(remaining, l.OutstandingBalance)
		l.ApplyPayment(applied, at)
		remaining = remaining.Sub(applied)
		out = append(out, Allocation{
			LoanID:     l.ID,
			Applied:    applied,
			NewBalance: l.OutstandingBalance,
			Completed:  l.Status == StatusCompleted,
		})
	}
	return out
}

// TotalInstallmentsDue sums the current installments of active loans,
// oldest first, and returns the per-loan breakdown.
func TotalInstallmentsDue(loans []*DealerLoan) (decimal.Decimal, []Installment) {
	sorted := make([]*DealerLoan, len(loans))
	copy(sorted, loans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})

	total := decimal.Zero
	var breakdown []Installment
	for _, l := range sorted {
		if !l.Active() {
			continue
		}
		due := InstallmentDue(l)
		total = total.Add(due.Amount)
		breakdown = append(breakdown, due)
	}
	return total, breakdown
}
