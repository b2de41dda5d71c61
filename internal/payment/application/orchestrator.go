package application

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"dealerpay/internal/observability/metrics"
	payment "dealerpay/internal/payment/domain"
	"dealerpay/internal/payment/execution"
	settlementapp "dealerpay/internal/settlement/application"
	settlement "dealerpay/internal/settlement/domain"
)

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// SkippedSettlement records why a settlement was left out of a plan.
type SkippedSettlement struct {
	SettlementID string
	Reason       string
}

// Plan is the outcome of a planning run.
type Plan struct {
	Batches []*payment.PaymentBatch
	Skipped []SkippedSettlement
	DryRun  bool
}

// ItemError records a failed batch item.
type ItemError struct {
	SettlementID string
	Message      string
}

// ExecResult is the outcome of a batch execution or retry run.
type ExecResult struct {
	BatchID    string
	Status     string
	Successful int
	Failed     int
	Errors     []ItemError
}

// Orchestrator plans, executes and retries payment batches.
type Orchestrator struct {
	batches     payment.Repository
	settlements settlement.Repository
	lifecycle   *settlementapp.Lifecycle
	engine      *Engine
	gateway     execution.Gateway
	publisher   Publisher
	clock       Clock
	logger      *log.Logger
	currency    string
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(
	batches payment.Repository,
	settlements settlement.Repository,
	lifecycle *settlementapp.Lifecycle,
	engine *Engine,
	gateway execution.Gateway,
	publisher Publisher,
	clock Clock,
	logger *log.Logger,
	currency string,
) (*Orchestrator, error) {
	if batches == nil {
		return nil, errors.New("payment orchestrator: nil batch repository")
	}
	if settlements == nil {
		return nil, errors.New("payment orchestrator: nil settlement repository")
	}
	if lifecycle == nil {
		return nil, errors.New("payment orchestrator: nil settlement lifecycle")
	}
	if engine == nil {
		return nil, errors.New("payment orchestrator: nil rule engine")
	}
	if gateway == nil {
		return nil, errors.New("payment orchestrator: nil gateway")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if currency == "" {
		currency = "GHS"
	}
	return &Orchestrator{
		batches:     batches,
		settlements: settlements,
		lifecycle:   lifecycle,
		engine:      engine,
		gateway:     gateway,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
		currency:    currency,
	}, nil
}

// PlanBatches groups processable approved settlements into payment
// batches per method, sliced by the matching rule's batch size. With
// dryRun the plan is returned without persisting or emitting anything.
func (o *Orchestrator) PlanBatches(ctx context.Context, tenantID string, dryRun bool) (*Plan, error) {
	approved, err := o.settlements.ListByStatus(ctx, settlement.StatusApproved)
	if err != nil {
		return nil, err
	}

	plan := &Plan{DryRun: dryRun}
	type group struct {
		method       string
		maxBatchSize int
		items        []*settlement.DealerSettlement
	}
	groups := make(map[string]*group)
	var order []string

	for _, s := range approved {
		if tenantID != "" && s.TenantID != tenantID {
			continue
		}
		if !s.NetPayable.IsPositive() {
			plan.Skipped = append(plan.Skipped, SkippedSettlement{
				SettlementID: s.ID,
				Reason:       "net payable is not positive",
			})
			continue
		}
		decision, err := o.engine.Evaluate(ctx, s)
		if err != nil {
			return nil, err
		}
		if !decision.Processable {
			plan.Skipped = append(plan.Skipped, SkippedSettlement{SettlementID: s.ID, Reason: decision.Reason})
			continue
		}
		g, ok := groups[decision.Method]
		if !ok {
			g = &group{method: decision.Method, maxBatchSize: decision.MaxBatchSize}
			groups[decision.Method] = g
			order = append(order, decision.Method)
		}
		g.items = append(g.items, s)
	}

	now := o.clock.Now().UTC()
	suffix := 0
	for _, method := range order {
		g := groups[method]
		for start := 0; start < len(g.items); start += g.maxBatchSize {
			end := start + g.maxBatchSize
			if end > len(g.items) {
				end = len(g.items)
			}
			suffix++

			b := &payment.PaymentBatch{
				ID:          uuid.NewString(),
				TenantID:    tenantID,
				BatchNumber: payment.BuildBatchNumber(now, suffix),
				Method:      g.method,
				Status:      payment.BatchStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			for _, s := range g.items[start:end] {
				b.Items = append(b.Items, payment.BatchItem{
					ID:           uuid.NewString(),
					SettlementID: s.ID,
					StationID:    s.StationID,
					Amount:       s.NetPayable,
					Currency:     o.currency,
					Reference:    s.SettlementNumber,
					Bank:         s.Bank,
					Status:       payment.ItemStatusPending,
				})
				b.TotalAmount = b.TotalAmount.Add(s.NetPayable)
			}
			plan.Batches = append(plan.Batches, b)
		}
	}

	if dryRun {
		return plan, nil
	}
	for _, b := range plan.Batches {
		if err := o.batches.Save(ctx, b); err != nil {
			return nil, err
		}
		if o.publisher != nil {
			err := o.publisher.Publish(ctx, PaymentBatchCreated{
				TenantID:    b.TenantID,
				BatchID:     b.ID,
				BatchNumber: b.BatchNumber,
				Method:      b.Method,
				Items:       len(b.Items),
				TotalAmount: b.TotalAmount,
				OccurredAt:  now,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

// ExecuteBatch submits a batch's unpaid items to the gateway with
// per-item isolation. Context cancellation stops between items and
// persisted progress survives.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, batchID, operator string) (*ExecResult, error) {
	b, err := o.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !b.Executable() {
		return nil, payment.ErrBatchNotExecutable
	}

	now := o.clock.Now().UTC()
	b.Status = payment.BatchStatusProcessing
	b.ProcessedBy = operator
	b.StartedAt = now
	b.UpdatedAt = now
	if err := o.batches.Save(ctx, b); err != nil {
		return nil, err
	}

	result, err := o.run(ctx, b, operator, func(item *payment.BatchItem) bool {
		return item.Status != payment.ItemStatusPaid
	})
	if err != nil {
		return result, err
	}

	if o.publisher != nil {
		err := o.publisher.Publish(ctx, PaymentBatchCompleted{
			TenantID:   b.TenantID,
			BatchID:    b.ID,
			Status:     b.Status,
			Successful: result.Successful,
			Failed:     result.Failed,
			OccurredAt: o.clock.Now().UTC(),
		})
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// RetryFailed re-submits only the still-failed items of a batch. Paid
// items are never touched.
func (o *Orchestrator) RetryFailed(ctx context.Context, batchID, operator string) (*ExecResult, error) {
	b, err := o.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != payment.BatchStatusPartiallyCompleted && b.Status != payment.BatchStatusFailed {
		return nil, payment.ErrBatchNotExecutable
	}
	if b.CountByStatus(payment.ItemStatusFailed) == 0 {
		// nothing to retry; report current state
		return &ExecResult{
			BatchID:    b.ID,
			Status:     b.Status,
			Successful: b.CountByStatus(payment.ItemStatusPaid),
		}, nil
	}

	now := o.clock.Now().UTC()
	b.Status = payment.BatchStatusProcessing
	b.ProcessedBy = operator
	b.UpdatedAt = now
	if err := o.batches.Save(ctx, b); err != nil {
		return nil, err
	}

	result, err := o.run(ctx, b, operator, func(item *payment.BatchItem) bool {
		return item.Status == payment.ItemStatusFailed
	})
	if err != nil {
		return result, err
	}

	if o.publisher != nil {
		err := o.publisher.Publish(ctx, PaymentRetryCompleted{
			TenantID:   b.TenantID,
			BatchID:    b.ID,
			Status:     b.Status,
			Successful: result.Successful,
			Failed:     result.Failed,
			OccurredAt: o.clock.Now().UTC(),
		})
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// run submits the selected items, isolating failures per item. The
// settlement is marked paid under the same operator when the gateway
// accepts a payout.
func (o *Orchestrator) run(ctx context.Context, b *payment.PaymentBatch, operator string, include func(*payment.BatchItem) bool) (*ExecResult, error) {
	start := o.clock.Now()
	result := &ExecResult{BatchID: b.ID}
	cancelled := false

	for i := range b.Items {
		item := &b.Items[i]
		if !include(item) {
			continue
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		receipt, err := o.gateway.Submit(ctx, execution.Instruction{
			SettlementID: item.SettlementID,
			StationID:    item.StationID,
			Amount:       item.Amount,
			Currency:     item.Currency,
			Reference:    item.Reference,
			Method:       b.Method,
			Bank:         item.Bank,
		})
		if err != nil {
			var failed *execution.FailedError
			if !errors.As(err, &failed) {
				o.logger.Printf("payment: gateway error settlement=%s: %v", item.SettlementID, err)
			}
			item.Status = payment.ItemStatusFailed
			item.ErrorMessage = err.Error()
			item.ProcessedAt = o.clock.Now().UTC()
			result.Failed++
			result.Errors = append(result.Errors, ItemError{SettlementID: item.SettlementID, Message: err.Error()})
			metrics.IncPaymentItem("failed")
			if err := o.batches.UpdateItem(ctx, b.ID, *item); err != nil {
				return result, err
			}
			continue
		}

		item.Status = payment.ItemStatusPaid
		item.TransactionID = receipt.TransactionID
		item.ErrorMessage = ""
		item.ProcessedAt = receipt.ProcessedAt
		result.Successful++
		metrics.IncPaymentItem("paid")
		if err := o.batches.UpdateItem(ctx, b.ID, *item); err != nil {
			return result, err
		}

		if _, err := o.lifecycle.MarkPaid(ctx, item.SettlementID, receipt.TransactionID, b.Method, operator); err != nil {
			// payout left the gateway; settlement state needs manual follow-up
			o.logger.Printf("payment: settlement %s paid but not marked: %v", item.SettlementID, err)
		}
	}

	now := o.clock.Now().UTC()
	if cancelled {
		if b.CountByStatus(payment.ItemStatusPaid) > 0 {
			b.Status = payment.BatchStatusPartiallyCompleted
		} else {
			b.Status = payment.BatchStatusPending
		}
		b.UpdatedAt = now
		if err := o.batches.Save(ctx, b); err != nil {
			o.logger.Printf("payment: persist cancelled batch %s: %v", b.ID, err)
		}
		metrics.ObservePaymentBatch(metrics.ResultError, now.Sub(start))
		result.Status = b.Status
		return result, ctx.Err()
	}

	b.Finalize(now)
	if err := o.batches.Save(ctx, b); err != nil {
		return result, err
	}
	result.Status = b.Status

	observed := metrics.ResultSuccess
	if result.Failed > 0 {
		observed = metrics.ResultError
	}
	metrics.ObservePaymentBatch(observed, now.Sub(start))
	return result, nil
}

func (o *Orchestrator) loadBatch(ctx context.Context, batchID string) (*payment.PaymentBatch, error) {
	b, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, payment.ErrBatchNotFound
	}
	return b, nil
}
