package loan

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeLoan(id string, balance string, startDay int) *DealerLoan {
	return &DealerLoan{
		ID:                 id,
		StationID:          "ST-001",
		Principal:          dec(balance),
		OutstandingBalance: dec(balance),
		TenorMonths:        12,
		StartDate:          time.Date(2025, 1, startDay, 0, 0, 0, 0, time.UTC),
		Status:             StatusActive,
	}
}

func TestAllocateRepayment_OldestFirstCompletesAndRollsOver(t *testing.T) {
	older := activeLoan("L1", "100", 1)
	newer := activeLoan("L2", "50", 15)
	at := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	allocations := AllocateRepayment([]*DealerLoan{newer, older}, dec("120"), at)
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}

	if allocations[0].LoanID != "L1" || !allocations[0].Applied.Equal(dec("100")) {
		t.Fatalf("first allocation = %+v", allocations[0])
	}
	if !allocations[0].Completed {
		t.Fatalf("expected oldest loan completed")
	}
	if older.Status != StatusCompleted || !older.OutstandingBalance.IsZero() {
		t.Fatalf("older loan = %s %s", older.Status, older.OutstandingBalance)
	}
	if older.CompletionDate.IsZero() {
		t.Fatalf("expected completion date")
	}

	if allocations[1].LoanID != "L2" || !allocations[1].Applied.Equal(dec("20")) {
		t.Fatalf("second allocation = %+v", allocations[1])
	}
	if !newer.OutstandingBalance.Equal(dec("30")) {
		t.Fatalf("newer balance = %s, want 30", newer.OutstandingBalance)
	}
	if newer.Status != StatusActive {
		t.Fatalf("newer status = %s", newer.Status)
	}
}

func TestAllocateRepayment_SmallPoolTouchesOldestOnly(t *testing.T) {
	older := activeLoan("L1", "100", 1)
	newer := activeLoan("L2", "50", 15)
	at := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	allocations := AllocateRepayment([]*DealerLoan{older, newer}, dec("30"), at)
	if len(allocations) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(allocations))
	}
	if allocations[0].LoanID != "L1" || !allocations[0].Applied.Equal(dec("30")) {
		t.Fatalf("allocation = %+v", allocations[0])
	}
	if !older.OutstandingBalance.Equal(dec("70")) {
		t.Fatalf("older balance = %s, want 70", older.OutstandingBalance)
	}
	if !newer.OutstandingBalance.Equal(dec("50")) {
		t.Fatalf("newer balance = %s, untouched 50 expected", newer.OutstandingBalance)
	}
}

func TestAllocateRepayment_SkipsCompletedLoans(t *testing.T) {
	done := activeLoan("L1", "100", 1)
	done.Status = StatusCompleted
	done.OutstandingBalance = decimal.Zero
	active := activeLoan("L2", "50", 15)
	at := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	allocations := AllocateRepayment([]*DealerLoan{done, active}, dec("40"), at)
	if len(allocations) != 1 || allocations[0].LoanID != "L2" {
		t.Fatalf("allocations = %+v", allocations)
	}
}

func TestInstallmentDue_Amortization(t *testing.T) {
	l := &DealerLoan{
		ID:                 "L1",
		Principal:          dec("10000"),
		OutstandingBalance: dec("10000"),
		AnnualRate:         dec("0.12"),
		TenorMonths:        12,
		StartDate:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:             StatusActive,
	}

	due := InstallmentDue(l)
	if !due.Amount.Equal(dec("888.49")) {
		t.Fatalf("installment = %s, want 888.49", due.Amount)
	}
	if !due.Interest.Equal(dec("100")) {
		t.Fatalf("interest = %s, want 100", due.Interest)
	}
	if !due.Principal.Equal(dec("788.49")) {
		t.Fatalf("principal = %s, want 788.49", due.Principal)
	}
	if due.Number != 1 {
		t.Fatalf("number = %d", due.Number)
	}
}

func TestInstallmentDue_ZeroRateAmortizesLinearly(t *testing.T) {
	l := &DealerLoan{
		ID:                 "L1",
		Principal:          dec("1200"),
		OutstandingBalance: dec("1200"),
		TenorMonths:        12,
		Status:             StatusActive,
	}

	due := InstallmentDue(l)
	if !due.Amount.Equal(dec("100")) {
		t.Fatalf("installment = %s, want 100", due.Amount)
	}
	if !due.Interest.IsZero() {
		t.Fatalf("interest = %s", due.Interest)
	}
}

func TestInstallmentDue_NeverExceedsBalance(t *testing.T) {
	l := &DealerLoan{
		ID:                 "L1",
		Principal:          dec("1200"),
		OutstandingBalance: dec("40"),
		AnnualRate:         dec("0.12"),
		TenorMonths:        12,
		Status:             StatusActive,
	}

	due := InstallmentDue(l)
	if due.Amount.GreaterThan(l.OutstandingBalance) {
		t.Fatalf("installment %s exceeds balance %s", due.Amount, l.OutstandingBalance)
	}
}

func TestTotalInstallmentsDue_OldestFirstBreakdown(t *testing.T) {
	older := activeLoan("L1", "1200", 1)
	newer := activeLoan("L2", "600", 15)

	total, breakdown := TotalInstallmentsDue([]*DealerLoan{newer, older})
	if len(breakdown) != 2 {
		t.Fatalf("breakdown = %+v", breakdown)
	}
	if breakdown[0].LoanID != "L1" || breakdown[1].LoanID != "L2" {
		t.Fatalf("order = %s, %s", breakdown[0].LoanID, breakdown[1].LoanID)
	}
	if !total.Equal(breakdown[0].Amount.Add(breakdown[1].Amount)) {
		t.Fatalf("total %s != sum of parts", total)
	}
}
