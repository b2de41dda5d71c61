package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	accrualmem "dealerpay/internal/accrual/infrastructure/memory"
	loanmem "dealerpay/internal/loan/memory"
	payment "dealerpay/internal/payment/domain"
	"dealerpay/internal/payment/execution"
	paymem "dealerpay/internal/payment/infrastructure/memory"
	"dealerpay/internal/pricing"
	settlementapp "dealerpay/internal/settlement/application"
	settlement "dealerpay/internal/settlement/domain"
	settlementmem "dealerpay/internal/settlement/infrastructure/memory"
)

type recordingPublisher struct {
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) names() []string {
	var out []string
	for _, e := range p.events {
		if named, ok := e.(interface{ EventName() string }); ok {
			out = append(out, named.EventName())
		}
	}
	return out
}

type scriptedGateway struct {
	failFor     map[string]string
	submissions []execution.Instruction
}

func (g *scriptedGateway) Submit(_ context.Context, in execution.Instruction) (execution.Receipt, error) {
	g.submissions = append(g.submissions, in)
	if reason, ok := g.failFor[in.SettlementID]; ok {
		return execution.Receipt{}, &execution.FailedError{Code: "rejected", Reason: reason}
	}
	return execution.Receipt{
		TransactionID: "TXN-" + in.SettlementID,
		ProcessedAt:   testNow(),
	}, nil
}

// cancellingGateway cancels the run's context after a number of
// successful submissions.
type cancellingGateway struct {
	cancel      context.CancelFunc
	cancelAfter int
	submissions int
}

func (g *cancellingGateway) Submit(_ context.Context, in execution.Instruction) (execution.Receipt, error) {
	g.submissions++
	if g.submissions >= g.cancelAfter {
		g.cancel()
	}
	return execution.Receipt{TransactionID: "TXN-" + in.SettlementID, ProcessedAt: testNow()}, nil
}

type orchestratorFixture struct {
	batches     *paymem.BatchRepository
	settlements *settlementmem.SettlementRepository
	publisher   *recordingPublisher
	gateway     *scriptedGateway
	orch        *Orchestrator
}

func newOrchestratorFixture(t *testing.T, gateway execution.Gateway) *orchestratorFixture {
	t.Helper()
	accruals := accrualmem.NewAccrualRepository()
	loans := loanmem.NewLoanRepository()
	settlements := settlementmem.NewSettlementRepository(accruals, loans)
	batches := paymem.NewBatchRepository()
	publisher := &recordingPublisher{}
	clock := fixedClock{now: testNow()}
	logger := log.New(testLogWriter{t}, "", 0)

	provider, err := pricing.NewStaticProvider([]pricing.Window{{
		ID:    "2026-W01",
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 15, 23, 59, 59, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("static provider: %v", err)
	}
	calc, err := settlementapp.NewCalculator(accruals, provider, loans, nil, nil, clock)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	lifecycle, err := settlementapp.NewLifecycle(settlements, calc, loans, publisher, clock, logger)
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	engine := newTestEngine(t, defaultRules(t), staticTotals{})

	scripted, _ := gateway.(*scriptedGateway)
	if gateway == nil {
		scripted = &scriptedGateway{}
		gateway = scripted
	}
	orch, err := NewOrchestrator(batches, settlements, lifecycle, engine, gateway, publisher, clock, logger, "GHS")
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return &orchestratorFixture{
		batches:     batches,
		settlements: settlements,
		publisher:   publisher,
		gateway:     scripted,
		orch:        orch,
	}
}

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// seedApproved stores an Approved settlement with the given net payable,
// approved five days before the fixture clock.
func (f *orchestratorFixture) seedApproved(t *testing.T, n int, net string) *settlement.DealerSettlement {
	t.Helper()
	ctx := context.Background()
	s := &settlement.DealerSettlement{
		ID:               fmt.Sprintf("SET-%d", n),
		TenantID:         "tenant-1",
		StationID:        fmt.Sprintf("ST-%03d", n),
		WindowID:         "2026-W01",
		SettlementNumber: fmt.Sprintf("SETT-ST-%03d-2026-W01-20260116000000", n),
		Status:           settlement.StatusCalculated,
		GrossMargin:      dec(t, net),
		NetPayable:       dec(t, net),
		CreatedAt:        testNow().AddDate(0, 0, -6),
		UpdatedAt:        testNow().AddDate(0, 0, -6),
	}
	if err := f.settlements.SaveCalculated(ctx, s, nil); err != nil {
		t.Fatalf("seed settlement %d: %v", n, err)
	}
	// stagger approvals so listing order is deterministic
	if err := s.Approve("ops", testNow().AddDate(0, 0, -5).Add(time.Duration(n)*time.Minute)); err != nil {
		t.Fatalf("approve settlement %d: %v", n, err)
	}
	if err := f.settlements.Transition(ctx, s, settlement.StatusCalculated); err != nil {
		t.Fatalf("persist approval %d: %v", n, err)
	}
	return s
}

func TestPlanBatches_GroupsApprovedSettlements(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		f.seedApproved(t, n, "500")
	}

	plan, err := f.orch.PlanBatches(ctx, "tenant-1", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Batches) != 1 {
		t.Fatalf("batches = %d", len(plan.Batches))
	}
	b := plan.Batches[0]
	if len(b.Items) != 3 {
		t.Fatalf("items = %d", len(b.Items))
	}
	if b.Method != "bank_transfer" {
		t.Fatalf("method = %q", b.Method)
	}
	if !b.TotalAmount.Equal(dec(t, "1500")) {
		t.Fatalf("total = %s", b.TotalAmount)
	}
	if b.Items[0].Reference != "SETT-ST-001-2026-W01-20260116000000" {
		t.Fatalf("reference = %q", b.Items[0].Reference)
	}

	stored, err := f.batches.GetByID(ctx, b.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored batch: %v, %v", stored, err)
	}
	if stored.Status != payment.BatchStatusPending {
		t.Fatalf("stored status = %q", stored.Status)
	}
	if got := f.publisher.names(); len(got) != 1 || got[0] != "payment.batch.created" {
		t.Fatalf("events = %v", got)
	}
}

func TestPlanBatches_SlicesByMaxBatchSize(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	cfg := Config{Rules: []RuleConfig{{Name: "small-batches", MaxBatchSize: 2}}}
	rules, err := cfg.BuildRules()
	if err != nil {
		t.Fatalf("build rules: %v", err)
	}
	f.orch.engine = newTestEngine(t, rules, staticTotals{})

	for n := 1; n <= 5; n++ {
		f.seedApproved(t, n, "500")
	}
	plan, err := f.orch.PlanBatches(context.Background(), "tenant-1", true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Batches) != 3 {
		t.Fatalf("batches = %d", len(plan.Batches))
	}
	sizes := []int{len(plan.Batches[0].Items), len(plan.Batches[1].Items), len(plan.Batches[2].Items)}
	if sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("sizes = %v", sizes)
	}
}

func TestPlanBatches_DryRunPersistsNothing(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	f.seedApproved(t, 1, "500")

	plan, err := f.orch.PlanBatches(context.Background(), "tenant-1", true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Batches) != 1 || !plan.DryRun {
		t.Fatalf("plan = %+v", plan)
	}
	pending, err := f.batches.ListByStatus(context.Background(), payment.BatchStatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("dry run persisted %d batches", len(pending))
	}
	if len(f.publisher.names()) != 0 {
		t.Fatalf("dry run emitted events %v", f.publisher.names())
	}
}

func TestPlanBatches_SkipsIneligibleWithReason(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	// net below the standard rule's minimum amount
	f.seedApproved(t, 1, "50")

	plan, err := f.orch.PlanBatches(context.Background(), "tenant-1", true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Batches) != 0 {
		t.Fatalf("batches = %d", len(plan.Batches))
	}
	if len(plan.Skipped) != 1 {
		t.Fatalf("skipped = %v", plan.Skipped)
	}
	if plan.Skipped[0].SettlementID != "SET-1" || plan.Skipped[0].Reason == "" {
		t.Fatalf("skip entry = %+v", plan.Skipped[0])
	}
}

func TestExecuteBatch_IsolatesItemFailures(t *testing.T) {
	gateway := &scriptedGateway{failFor: map[string]string{"SET-3": "account closed"}}
	f := newOrchestratorFixture(t, gateway)
	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		f.seedApproved(t, n, "500")
	}
	plan, err := f.orch.PlanBatches(ctx, "tenant-1", false)
	if err != nil || len(plan.Batches) != 1 {
		t.Fatalf("plan: %v, %d batches", err, len(plan.Batches))
	}
	f.publisher.events = nil

	result, err := f.orch.ExecuteBatch(ctx, plan.Batches[0].ID, "ops")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Successful != 4 || result.Failed != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Status != payment.BatchStatusPartiallyCompleted {
		t.Fatalf("status = %q", result.Status)
	}
	if len(result.Errors) != 1 || result.Errors[0].SettlementID != "SET-3" {
		t.Fatalf("errors = %+v", result.Errors)
	}

	b, err := f.batches.GetByID(ctx, plan.Batches[0].ID)
	if err != nil || b == nil {
		t.Fatalf("load batch: %v", err)
	}
	if b.Status != payment.BatchStatusPartiallyCompleted {
		t.Fatalf("stored status = %q", b.Status)
	}
	for _, item := range b.Items {
		switch item.SettlementID {
		case "SET-3":
			if item.Status != payment.ItemStatusFailed || item.ErrorMessage == "" {
				t.Fatalf("failed item = %+v", item)
			}
		default:
			if item.Status != payment.ItemStatusPaid || item.TransactionID == "" {
				t.Fatalf("paid item = %+v", item)
			}
		}
	}

	paid, err := f.settlements.GetByID(ctx, "SET-1")
	if err != nil || paid == nil {
		t.Fatalf("load settlement: %v", err)
	}
	if paid.Status != settlement.StatusPaid {
		t.Fatalf("settlement 1 status = %q", paid.Status)
	}
	failed, err := f.settlements.GetByID(ctx, "SET-3")
	if err != nil || failed == nil {
		t.Fatalf("load settlement: %v", err)
	}
	if failed.Status != settlement.StatusApproved {
		t.Fatalf("settlement 3 status = %q", failed.Status)
	}
}

func TestRetryFailed_ResubmitsOnlyFailedItems(t *testing.T) {
	gateway := &scriptedGateway{failFor: map[string]string{"SET-3": "account closed"}}
	f := newOrchestratorFixture(t, gateway)
	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		f.seedApproved(t, n, "500")
	}
	plan, err := f.orch.PlanBatches(ctx, "tenant-1", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := f.orch.ExecuteBatch(ctx, plan.Batches[0].ID, "ops"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// the receiving account reopens
	delete(gateway.failFor, "SET-3")
	before := len(gateway.submissions)
	f.publisher.events = nil

	result, err := f.orch.RetryFailed(ctx, plan.Batches[0].ID, "ops")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.Status != payment.BatchStatusCompleted {
		t.Fatalf("status = %q", result.Status)
	}
	if got := len(gateway.submissions) - before; got != 1 {
		t.Fatalf("retry submitted %d instructions, want 1", got)
	}
	if gateway.submissions[before].SettlementID != "SET-3" {
		t.Fatalf("retried %q", gateway.submissions[before].SettlementID)
	}

	s, err := f.settlements.GetByID(ctx, "SET-3")
	if err != nil || s == nil {
		t.Fatalf("load settlement: %v", err)
	}
	if s.Status != settlement.StatusPaid {
		t.Fatalf("settlement status = %q", s.Status)
	}

	names := f.publisher.names()
	var sawRetry bool
	for _, name := range names {
		if name == "payment.retry.completed" {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Fatalf("events = %v", names)
	}
}

func TestRetryFailed_RejectsCompletedBatch(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	ctx := context.Background()
	f.seedApproved(t, 1, "500")
	plan, err := f.orch.PlanBatches(ctx, "tenant-1", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := f.orch.ExecuteBatch(ctx, plan.Batches[0].ID, "ops"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := f.orch.RetryFailed(ctx, plan.Batches[0].ID, "ops"); !errors.Is(err, payment.ErrBatchNotExecutable) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteBatch_UnknownAndExhaustedBatches(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	ctx := context.Background()
	if _, err := f.orch.ExecuteBatch(ctx, "missing", "ops"); !errors.Is(err, payment.ErrBatchNotFound) {
		t.Fatalf("err = %v", err)
	}

	f.seedApproved(t, 1, "500")
	plan, err := f.orch.PlanBatches(ctx, "tenant-1", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := f.orch.ExecuteBatch(ctx, plan.Batches[0].ID, "ops"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := f.orch.ExecuteBatch(ctx, plan.Batches[0].ID, "ops"); !errors.Is(err, payment.ErrBatchNotExecutable) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteBatch_StopsBetweenItemsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gateway := &cancellingGateway{cancel: cancel, cancelAfter: 2}
	f := newOrchestratorFixture(t, gateway)
	for n := 1; n <= 4; n++ {
		f.seedApproved(t, n, "500")
	}
	plan, err := f.orch.PlanBatches(ctx, "tenant-1", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	_, err = f.orch.ExecuteBatch(ctx, plan.Batches[0].ID, "ops")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if gateway.submissions != 2 {
		t.Fatalf("submissions = %d", gateway.submissions)
	}

	b, err := f.batches.GetByID(context.Background(), plan.Batches[0].ID)
	if err != nil || b == nil {
		t.Fatalf("load batch: %v", err)
	}
	if b.Status != payment.BatchStatusPartiallyCompleted {
		t.Fatalf("status = %q", b.Status)
	}
	if paid := b.CountByStatus(payment.ItemStatusPaid); paid != 2 {
		t.Fatalf("paid items = %d", paid)
	}
}
