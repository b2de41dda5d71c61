package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dealerpay/internal/loan"
	settlement "dealerpay/internal/settlement/domain"
)

// AccrualSettler flips consumed accruals to Settled.
type AccrualSettler interface {
	MarkSettled(ctx context.Context, ids []string, at time.Time) error
}

// LoanApplier persists loan waterfall allocations.
type LoanApplier interface {
	ApplyAllocations(ctx context.Context, allocations []loan.Allocation, at time.Time) error
}

// SettlementRepository is an in-memory repository for dealer settlements.
// The composite methods mirror the transactional SQL implementation.
type SettlementRepository struct {
	mu      sync.RWMutex
	data    map[string]*settlement.DealerSettlement
	settler AccrualSettler
	loans   LoanApplier
}

// NewSettlementRepository constructs a repository. The settler and loan
// applier may be nil when a test does not touch accruals or loans.
func NewSettlementRepository(settler AccrualSettler, loans LoanApplier) *SettlementRepository {
	return &SettlementRepository{
		data:    make(map[string]*settlement.DealerSettlement),
		settler: settler,
		loans:   loans,
	}
}

// GetByID loads a single settlement.
func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*settlement.DealerSettlement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.data[id]
	if s == nil {
		return nil, nil
	}
	return s.Clone(), nil
}

// FindByStationWindow loads the settlement for a station-window.
func (r *SettlementRepository) FindByStationWindow(ctx context.Context, stationID, windowID string) (*settlement.DealerSettlement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.data {
		if s.StationID == stationID && s.WindowID == windowID {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

// ListByStatus returns settlements in a status ordered by approval time.
func (r *SettlementRepository) ListByStatus(ctx context.Context, status string) ([]*settlement.DealerSettlement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*settlement.DealerSettlement
	for _, s := range r.data {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	sortByApproval(out)
	return out, nil
}

// SaveCalculated upserts a Calculated settlement and settles the
// consumed accruals.
func (r *SettlementRepository) SaveCalculated(ctx context.Context, s *settlement.DealerSettlement, consumedAccrualIDs []string) error {
	if s == nil {
		return settlement.ErrNilSettlement
	}

	r.mu.Lock()
	for _, existing := range r.data {
		if existing.StationID != s.StationID || existing.WindowID != s.WindowID {
			continue
		}
		if existing.Status != settlement.StatusCalculated {
			r.mu.Unlock()
			return settlement.ErrAlreadyProcessed
		}
		delete(r.data, existing.ID)
	}
	r.data[s.ID] = s.Clone()
	r.mu.Unlock()

	if r.settler == nil || len(consumedAccrualIDs) == 0 {
		return nil
	}
	return r.settler.MarkSettled(ctx, consumedAccrualIDs, s.UpdatedAt)
}

// Transition persists the settlement if the stored status still matches.
func (r *SettlementRepository) Transition(ctx context.Context, s *settlement.DealerSettlement, from string) error {
	_ = ctx
	if s == nil {
		return settlement.ErrNilSettlement
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.data[s.ID]
	if !ok {
		return settlement.ErrSettlementNotFound
	}
	if stored.Status != from {
		return settlement.ErrInvalidStateTransition
	}
	r.data[s.ID] = s.Clone()
	return nil
}

// MarkPaid persists the Paid settlement and applies loan allocations.
func (r *SettlementRepository) MarkPaid(ctx context.Context, s *settlement.DealerSettlement, allocations []loan.Allocation) error {
	if err := r.Transition(ctx, s, settlement.StatusApproved); err != nil {
		return err
	}
	if r.loans == nil || len(allocations) == 0 {
		return nil
	}
	return r.loans.ApplyAllocations(ctx, allocations, s.PaidAt)
}

func sortByApproval(items []*settlement.DealerSettlement) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ApprovedAt.Before(items[j].ApprovedAt)
	})
}
