package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dealerpay/internal/loan"
)

// LoanRepository is an in-memory repository for dealer loans.
type LoanRepository struct {
	mu   sync.RWMutex
	data map[string]*loan.DealerLoan
}

// NewLoanRepository constructs a repository.
func NewLoanRepository() *LoanRepository {
	return &LoanRepository{data: make(map[string]*loan.DealerLoan)}
}

// GetByID loads a single loan.
func (r *LoanRepository) GetByID(ctx context.Context, id string) (*loan.DealerLoan, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	l := r.data[id]
	if l == nil {
		return nil, nil
	}
	return l.Clone(), nil
}

// ListActiveByStation returns active loans ordered by start date.
func (r *LoanRepository) ListActiveByStation(ctx context.Context, stationID string) ([]*loan.DealerLoan, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*loan.DealerLoan
	for _, l := range r.data {
		if l.StationID == stationID && l.Status == loan.StatusActive {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// Save persists a loan (overwrites existing).
func (r *LoanRepository) Save(ctx context.Context, l *loan.DealerLoan) error {
	_ = ctx
	if l == nil {
		return loan.ErrNilLoan
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[l.ID] = l.Clone()
	return nil
}

// ApplyAllocations persists waterfall allocations to loan balances.
func (r *LoanRepository) ApplyAllocations(ctx context.Context, allocations []loan.Allocation, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alloc := range allocations {
		l, ok := r.data[alloc.LoanID]
		if !ok {
			return loan.ErrLoanNotFound
		}
		l.ApplyPayment(alloc.Applied, at)
	}
	return nil
}
