package application

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	accrual "dealerpay/internal/accrual/domain"
	accrualmem "dealerpay/internal/accrual/infrastructure/memory"
	"dealerpay/internal/loan"
	loanmem "dealerpay/internal/loan/memory"
	"dealerpay/internal/pricing"
	settlement "dealerpay/internal/settlement/domain"
	settlementmem "dealerpay/internal/settlement/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingPublisher struct {
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, event any) error {
	_ = ctx
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) names() []string {
	var out []string
	for _, e := range p.events {
		switch e.(type) {
		case SettlementCalculated:
			out = append(out, "settlement.calculated")
		case SettlementNegativeBalance:
			out = append(out, "settlement.negative-balance")
		case SettlementApproved:
			out = append(out, "settlement.approved")
		case SettlementPaid:
			out = append(out, "settlement.paid")
		case LoanPaymentApplied:
			out = append(out, "loan.payment.applied")
		}
	}
	return out
}

type fixedDeductions struct {
	lines []settlement.DeductionLine
}

func (d fixedDeductions) ListDeductions(ctx context.Context, stationID, windowID string) ([]settlement.DeductionLine, error) {
	_, _, _ = ctx, stationID, windowID
	return d.lines, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	accruals  *accrualmem.AccrualRepository
	loans     *loanmem.LoanRepository
	repo      *settlementmem.SettlementRepository
	pub       *recordingPublisher
	lifecycle *Lifecycle
}

func newFixture(t *testing.T, deductions DeductionSource) *fixture {
	t.Helper()

	provider, err := pricing.NewStaticProvider([]pricing.Window{{
		ID:    "2026-W01",
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	accruals := accrualmem.NewAccrualRepository()
	loans := loanmem.NewLoanRepository()
	repo := settlementmem.NewSettlementRepository(accruals, loans)
	clock := fixedClock{now: time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC)}

	calc, err := NewCalculator(accruals, provider, loans, deductions, nil, clock)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	pub := &recordingPublisher{}
	lifecycle, err := NewLifecycle(repo, calc, loans, pub, clock, log.New(logWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}
	return &fixture{accruals: accruals, loans: loans, repo: repo, pub: pub, lifecycle: lifecycle}
}

type logWriter struct {
	t *testing.T
}

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *fixture) seedAccrual(t *testing.T, id, product string, day int, litres, margin string) {
	t.Helper()
	date := time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
	row := &accrual.MarginAccrual{
		ID:           id,
		TenantID:     "tenant-a",
		StationID:    "ST-001",
		ProductID:    product,
		AccrualDate:  date,
		WindowID:     "2026-W01",
		LitresSold:   dec(litres),
		MarginAmount: dec(margin),
		Status:       accrual.StatusAccrued,
	}
	if err := f.accruals.Replace(context.Background(), "ST-001", date, "2026-W01", []*accrual.MarginAccrual{row}); err != nil {
		t.Fatalf("seed accrual: %v", err)
	}
}

func (f *fixture) seedLoan(t *testing.T, id, balance string, startDay int) {
	t.Helper()
	err := f.loans.Save(context.Background(), &loan.DealerLoan{
		ID:                 id,
		TenantID:           "tenant-a",
		StationID:          "ST-001",
		Principal:          dec(balance),
		OutstandingBalance: dec(balance),
		TenorMonths:        1,
		StartDate:          time.Date(2025, 12, startDay, 0, 0, 0, 0, time.UTC),
		Status:             loan.StatusActive,
	})
	if err != nil {
		t.Fatalf("seed loan: %v", err)
	}
}

func TestCreateOrRecalculate_ReconciliationIdentities(t *testing.T) {
	f := newFixture(t, fixedDeductions{lines: []settlement.DeductionLine{
		{Code: "RENT", Description: "site rent", Amount: dec("200")},
	}})
	f.seedAccrual(t, "a1", "PMS", 5, "1500", "675")
	f.seedAccrual(t, "a2", "AGO", 6, "800", "400")
	f.seedLoan(t, "L1", "300", 1) // tenor 1, zero rate: installment = full balance

	s, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !s.GrossMargin.Equal(dec("1075")) {
		t.Fatalf("gross = %s, want 1075", s.GrossMargin)
	}
	if !s.LoanDeduction.Equal(dec("300")) {
		t.Fatalf("loan deduction = %s, want 300", s.LoanDeduction)
	}
	if !s.TotalDeductions.Equal(s.LoanDeduction.Add(s.OtherDeductions)) {
		t.Fatalf("deduction identity broken: %s != %s + %s", s.TotalDeductions, s.LoanDeduction, s.OtherDeductions)
	}
	if !s.NetPayable.Equal(s.GrossMargin.Sub(s.TotalDeductions)) {
		t.Fatalf("net identity broken")
	}
	if !s.NetPayable.Equal(dec("575")) {
		t.Fatalf("net = %s, want 575", s.NetPayable)
	}
	if s.Deficit() {
		t.Fatalf("unexpected deficit")
	}
	if len(s.Snapshot.Sales) != 2 || len(s.Snapshot.AccrualIDs) != 2 {
		t.Fatalf("snapshot = %+v", s.Snapshot)
	}
	if s.SettlementNumber == "" {
		t.Fatalf("expected settlement number")
	}

	// consumed accruals flipped to Settled
	rows, err := f.accruals.ListByStationWindow(context.Background(), "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("list accruals: %v", err)
	}
	for _, row := range rows {
		if row.Status != accrual.StatusSettled {
			t.Fatalf("accrual %s status = %s", row.ID, row.Status)
		}
	}
}

func TestCreateOrRecalculate_NoAccrualData(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if !errors.Is(err, settlement.ErrNoAccrualData) {
		t.Fatalf("expected ErrNoAccrualData, got %v", err)
	}
}

func TestCreateOrRecalculate_UnknownWindow(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2099-W99")
	if !errors.Is(err, pricing.ErrWindowNotFound) {
		t.Fatalf("expected ErrWindowNotFound, got %v", err)
	}
}

func TestCreateOrRecalculate_BlockedPastCalculated(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "1000", "450")

	s, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.lifecycle.Approve(context.Background(), s.ID, "manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if !errors.Is(err, settlement.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestCreateOrRecalculate_RecalculateKeepsIdentity(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "1000", "450")

	first, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	f.seedAccrual(t, "a2", "PMS", 6, "500", "225")
	second, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != first.ID || second.SettlementNumber != first.SettlementNumber {
		t.Fatalf("identity changed on recalculation")
	}
	if !second.GrossMargin.Equal(dec("225")) {
		// day 5 rows were consumed by the first run; only day 6 is Accrued
		t.Fatalf("gross = %s, want 225", second.GrossMargin)
	}
}

func TestCreateOrRecalculate_DeficitFlaggedNotError(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "100", "45")
	f.seedLoan(t, "L1", "500", 1)

	s, err := f.lifecycle.CreateOrRecalculate(context.Background(), "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !s.Deficit() {
		t.Fatalf("expected deficit")
	}
	if !s.NetPayable.Equal(dec("-455")) {
		t.Fatalf("net = %s, want -455", s.NetPayable)
	}

	names := f.pub.names()
	if len(names) != 2 || names[1] != "settlement.negative-balance" {
		t.Fatalf("events = %v", names)
	}
}

func TestLifecycle_FullHappyPathWithWaterfall(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "2000", "900")
	f.seedLoan(t, "L1", "100", 1)
	f.seedLoan(t, "L2", "50", 15)
	ctx := context.Background()

	s, err := f.lifecycle.CreateOrRecalculate(ctx, "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !s.LoanDeduction.Equal(dec("150")) {
		t.Fatalf("loan deduction = %s, want 150", s.LoanDeduction)
	}

	if _, err := f.lifecycle.Approve(ctx, s.ID, "manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	paid, err := f.lifecycle.MarkPaid(ctx, s.ID, "TRX-42", "bank_transfer", "treasury")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != settlement.StatusPaid || paid.PaymentReference != "TRX-42" {
		t.Fatalf("paid = %+v", paid)
	}

	// loan balances reduced through the waterfall
	l1, err := f.loans.GetByID(ctx, "L1")
	if err != nil {
		t.Fatalf("get L1: %v", err)
	}
	if l1.Status != loan.StatusCompleted || !l1.OutstandingBalance.IsZero() {
		t.Fatalf("L1 = %s %s", l1.Status, l1.OutstandingBalance)
	}
	l2, err := f.loans.GetByID(ctx, "L2")
	if err != nil {
		t.Fatalf("get L2: %v", err)
	}
	if !l2.OutstandingBalance.IsZero() {
		t.Fatalf("L2 balance = %s, want 0", l2.OutstandingBalance)
	}

	names := f.pub.names()
	want := []string{"settlement.calculated", "settlement.approved", "settlement.paid", "loan.payment.applied", "loan.payment.applied"}
	if len(names) != len(want) {
		t.Fatalf("events = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "1000", "450")
	ctx := context.Background()

	s, err := f.lifecycle.CreateOrRecalculate(ctx, "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// cannot pay before approval
	if _, err := f.lifecycle.MarkPaid(ctx, s.ID, "TRX-1", "bank_transfer", "treasury"); !errors.Is(err, settlement.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	if _, err := f.lifecycle.Approve(ctx, s.ID, "manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// cannot approve twice
	if _, err := f.lifecycle.Approve(ctx, s.ID, "manager"); !errors.Is(err, settlement.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on double approve, got %v", err)
	}

	if _, err := f.lifecycle.MarkPaid(ctx, s.ID, "TRX-1", "bank_transfer", "treasury"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	// paid settlements cannot be disputed
	if _, err := f.lifecycle.Dispute(ctx, s.ID, "late complaint"); !errors.Is(err, settlement.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on dispute, got %v", err)
	}
}

func TestLifecycle_DisputeAndCancelNeedReason(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "1000", "450")
	ctx := context.Background()

	s, err := f.lifecycle.CreateOrRecalculate(ctx, "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.lifecycle.Dispute(ctx, s.ID, ""); !errors.Is(err, settlement.ErrInvalidStateTransition) {
		t.Fatalf("expected reason required, got %v", err)
	}
	disputed, err := f.lifecycle.Dispute(ctx, s.ID, "volumes contested")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if disputed.Status != settlement.StatusDisputed || disputed.DisputeReason != "volumes contested" {
		t.Fatalf("disputed = %+v", disputed)
	}
}

func TestLifecycle_StatementView(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "1000", "450")
	ctx := context.Background()

	s, err := f.lifecycle.CreateOrRecalculate(ctx, "tenant-a", "ST-001", "2026-W01")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := f.lifecycle.Statement(ctx, s.ID)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if view.SettlementNumber != s.SettlementNumber {
		t.Fatalf("number = %s", view.SettlementNumber)
	}
	if !view.Metrics.MarginPerLitre.Equal(dec("0.45")) {
		t.Fatalf("margin per litre = %s", view.Metrics.MarginPerLitre)
	}
	if view.Metrics.Rating != RatingExcellent {
		// nothing deducted: profitability index is 1
		t.Fatalf("rating = %s", view.Metrics.Rating)
	}
}

func TestLifecycle_UnknownSettlement(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.lifecycle.Approve(context.Background(), "missing", "manager"); !errors.Is(err, settlement.ErrSettlementNotFound) {
		t.Fatalf("expected ErrSettlementNotFound, got %v", err)
	}
}
