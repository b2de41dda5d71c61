package application

import (
	"context"
	"errors"
	"log"

	"dealerpay/internal/loan"
	"dealerpay/internal/observability/metrics"
	settlement "dealerpay/internal/settlement/domain"
)

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Lifecycle drives the settlement state machine. A (station, window)
// pair is single-writer: conflicts surface from persisted state.
type Lifecycle struct {
	repo      settlement.Repository
	calc      *Calculator
	loans     loan.Repository
	publisher Publisher
	clock     Clock
	logger    *log.Logger
}

// NewLifecycle constructs the lifecycle manager.
func NewLifecycle(
	repo settlement.Repository,
	calc *Calculator,
	loans loan.Repository,
	publisher Publisher,
	clock Clock,
	logger *log.Logger,
) (*Lifecycle, error) {
	if repo == nil {
		return nil, errors.New("settlement lifecycle: nil repository")
	}
	if calc == nil {
		return nil, errors.New("settlement lifecycle: nil calculator")
	}
	if loans == nil {
		return nil, errors.New("settlement lifecycle: nil loan repository")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{
		repo:      repo,
		calc:      calc,
		loans:     loans,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// CreateOrRecalculate calculates and persists the settlement for a
// station-window. An existing settlement past Calculated blocks the run.
func (l *Lifecycle) CreateOrRecalculate(ctx context.Context, tenantID, stationID, windowID string) (*settlement.DealerSettlement, error) {
	start := l.clock.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSettlementCalc(result, l.clock.Now().Sub(start))
	}()

	existing, err := l.repo.FindByStationWindow(ctx, stationID, windowID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if existing != nil && existing.Status != settlement.StatusCalculated {
		result = metrics.ResultError
		return nil, settlement.ErrAlreadyProcessed
	}

	s, err := l.calc.Calculate(ctx, tenantID, stationID, windowID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if existing != nil {
		// Recalculation keeps the identity and reference of the first run.
		s.ID = existing.ID
		s.SettlementNumber = existing.SettlementNumber
		s.CreatedAt = existing.CreatedAt
	}

	if err := l.repo.SaveCalculated(ctx, s, s.Snapshot.AccrualIDs); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	metrics.IncSettlementTransition(settlement.StatusCalculated)

	if l.publisher != nil {
		now := l.clock.Now().UTC()
		err := l.publisher.Publish(ctx, SettlementCalculated{
			TenantID:         s.TenantID,
			StationID:        s.StationID,
			WindowID:         s.WindowID,
			SettlementID:     s.ID,
			SettlementNumber: s.SettlementNumber,
			GrossMargin:      s.GrossMargin,
			NetPayable:       s.NetPayable,
			Deficit:          s.Deficit(),
			OccurredAt:       now,
		})
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}
		if s.Deficit() {
			err := l.publisher.Publish(ctx, SettlementNegativeBalance{
				TenantID:     s.TenantID,
				StationID:    s.StationID,
				WindowID:     s.WindowID,
				SettlementID: s.ID,
				NetPayable:   s.NetPayable,
				OccurredAt:   now,
			})
			if err != nil {
				result = metrics.ResultError
				return nil, err
			}
		}
	}
	return s, nil
}

// Approve moves a settlement to Approved.
func (l *Lifecycle) Approve(ctx context.Context, settlementID, approvedBy string) (*settlement.DealerSettlement, error) {
	s, err := l.load(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if err := s.Approve(approvedBy, l.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := l.repo.Transition(ctx, s, settlement.StatusCalculated); err != nil {
		return nil, err
	}
	metrics.IncSettlementTransition(settlement.StatusApproved)

	if l.publisher != nil {
		err := l.publisher.Publish(ctx, SettlementApproved{
			TenantID:     s.TenantID,
			StationID:    s.StationID,
			SettlementID: s.ID,
			NetPayable:   s.NetPayable,
			ApprovedBy:   approvedBy,
			OccurredAt:   s.ApprovedAt,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MarkPaid records payment metadata and applies the loan waterfall to
// loan balances in the same transaction as the status flip.
func (l *Lifecycle) MarkPaid(ctx context.Context, settlementID, reference, method, paidBy string) (*settlement.DealerSettlement, error) {
	s, err := l.load(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now().UTC()
	if err := s.MarkPaid(reference, method, paidBy, now); err != nil {
		return nil, err
	}

	var allocations []loan.Allocation
	if s.LoanDeduction.IsPositive() {
		activeLoans, err := l.loans.ListActiveByStation(ctx, s.StationID)
		if err != nil {
			return nil, err
		}
		allocations = loan.AllocateRepayment(activeLoans, s.LoanDeduction, now)
	}

	if err := l.repo.MarkPaid(ctx, s, allocations); err != nil {
		return nil, err
	}
	metrics.IncSettlementTransition(settlement.StatusPaid)

	if l.publisher != nil {
		err := l.publisher.Publish(ctx, SettlementPaid{
			TenantID:         s.TenantID,
			StationID:        s.StationID,
			SettlementID:     s.ID,
			PaymentReference: reference,
			PaymentMethod:    method,
			Amount:           s.NetPayable,
			OccurredAt:       now,
		})
		if err != nil {
			return nil, err
		}
		for _, alloc := range allocations {
			metrics.IncLoanRepayment()
			err := l.publisher.Publish(ctx, LoanPaymentApplied{
				TenantID:     s.TenantID,
				StationID:    s.StationID,
				LoanID:       alloc.LoanID,
				SettlementID: s.ID,
				Amount:       alloc.Applied,
				NewBalance:   alloc.NewBalance,
				Completed:    alloc.Completed,
				OccurredAt:   now,
			})
			if err != nil {
				return nil, err
			}
		}
	} else {
		for range allocations {
			metrics.IncLoanRepayment()
		}
	}
	return s, nil
}

// Dispute flags a settlement with a reason.
func (l *Lifecycle) Dispute(ctx context.Context, settlementID, reason string) (*settlement.DealerSettlement, error) {
	s, err := l.load(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	from := s.Status
	if err := s.Dispute(reason, l.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := l.repo.Transition(ctx, s, from); err != nil {
		return nil, err
	}
	metrics.IncSettlementTransition(settlement.StatusDisputed)
	return s, nil
}

// Cancel voids a settlement with a reason.
func (l *Lifecycle) Cancel(ctx context.Context, settlementID, reason string) (*settlement.DealerSettlement, error) {
	s, err := l.load(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	from := s.Status
	if err := s.Cancel(reason, l.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := l.repo.Transition(ctx, s, from); err != nil {
		return nil, err
	}
	metrics.IncSettlementTransition(settlement.StatusCancelled)
	return s, nil
}

// Statement builds the read-only statement view for a settlement.
func (l *Lifecycle) Statement(ctx context.Context, settlementID string) (*StatementView, error) {
	s, err := l.load(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	return l.calc.Statement(ctx, s)
}

func (l *Lifecycle) load(ctx context.Context, settlementID string) (*settlement.DealerSettlement, error) {
	s, err := l.repo.GetByID(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, settlement.ErrSettlementNotFound
	}
	return s, nil
}
