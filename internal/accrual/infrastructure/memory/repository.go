package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	accrual "dealerpay/internal/accrual/domain"
)

// AccrualRepository is an in-memory repository for margin accruals.
type AccrualRepository struct {
	mu   sync.RWMutex
	data map[string]*accrual.MarginAccrual
}

// NewAccrualRepository constructs a repository.
func NewAccrualRepository() *AccrualRepository {
	return &AccrualRepository{data: make(map[string]*accrual.MarginAccrual)}
}

// GetByID loads a single accrual.
func (r *AccrualRepository) GetByID(ctx context.Context, id string) (*accrual.MarginAccrual, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	row := r.data[id]
	if row == nil {
		return nil, nil
	}
	return row.Clone(), nil
}

// ListByStationDate returns the accruals for a station-day.
func (r *AccrualRepository) ListByStationDate(ctx context.Context, stationID string, date time.Time) ([]*accrual.MarginAccrual, error) {
	_ = ctx
	key := accrual.DateKey(date)
	return r.list(func(row *accrual.MarginAccrual) bool {
		return row.StationID == stationID && accrual.DateKey(row.AccrualDate) == key
	}), nil
}

// ListByStationWindow returns the accruals for a station-window.
func (r *AccrualRepository) ListByStationWindow(ctx context.Context, stationID, windowID string) ([]*accrual.MarginAccrual, error) {
	_ = ctx
	return r.list(func(row *accrual.MarginAccrual) bool {
		return row.StationID == stationID && row.WindowID == windowID
	}), nil
}

// ListByStationSince returns the accruals on or after a date.
func (r *AccrualRepository) ListByStationSince(ctx context.Context, stationID string, from time.Time) ([]*accrual.MarginAccrual, error) {
	_ = ctx
	return r.list(func(row *accrual.MarginAccrual) bool {
		return row.StationID == stationID && !row.AccrualDate.Before(from)
	}), nil
}

// LatestCumulative returns the window running totals strictly before a date.
func (r *AccrualRepository) LatestCumulative(ctx context.Context, stationID, productID, windowID string, before time.Time) (accrual.Cumulative, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *accrual.MarginAccrual
	for _, row := range r.data {
		if row.StationID != stationID || row.ProductID != productID || row.WindowID != windowID {
			continue
		}
		if !row.AccrualDate.Before(before) {
			continue
		}
		if latest == nil || row.AccrualDate.After(latest.AccrualDate) {
			latest = row
		}
	}
	if latest == nil {
		return accrual.Cumulative{}, nil
	}
	return accrual.Cumulative{Litres: latest.CumulativeLitres, Margin: latest.CumulativeMargin}, nil
}

// Replace swaps the Pending/Accrued rows of a station-day-window key.
func (r *AccrualRepository) Replace(ctx context.Context, stationID string, date time.Time, windowID string, accruals []*accrual.MarginAccrual) error {
	_ = ctx
	key := accrual.DateKey(date)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.data {
		if row.StationID != stationID || row.WindowID != windowID || accrual.DateKey(row.AccrualDate) != key {
			continue
		}
		if row.Status != accrual.StatusPending && row.Status != accrual.StatusAccrued {
			return accrual.ErrAlreadyProcessed
		}
	}
	for id, row := range r.data {
		if row.StationID == stationID && row.WindowID == windowID && accrual.DateKey(row.AccrualDate) == key {
			delete(r.data, id)
		}
	}
	for _, row := range accruals {
		r.data[row.ID] = row.Clone()
	}
	return nil
}

// Update overwrites a single accrual.
func (r *AccrualRepository) Update(ctx context.Context, row *accrual.MarginAccrual) error {
	_ = ctx
	if row == nil {
		return accrual.ErrNilAccrual
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[row.ID]; !ok {
		return accrual.ErrAccrualNotFound
	}
	r.data[row.ID] = row.Clone()
	return nil
}

// MarkPosted flips Accrued rows of a station-window to PostedToGL.
func (r *AccrualRepository) MarkPosted(ctx context.Context, stationID, windowID, journalEntryID, glAccount, costCenter string, at time.Time) (int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, row := range r.data {
		if row.StationID != stationID || row.WindowID != windowID || row.Status != accrual.StatusAccrued {
			continue
		}
		row.Status = accrual.StatusPostedToGL
		row.JournalEntryID = journalEntryID
		row.GLAccount = glAccount
		row.CostCenter = costCenter
		row.UpdatedAt = at
		count++
	}
	return count, nil
}

// MarkSettled flips specific rows to Settled. Used by the settlement
// repository when persisting a calculation.
func (r *AccrualRepository) MarkSettled(ctx context.Context, ids []string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		row, ok := r.data[id]
		if !ok {
			return accrual.ErrAccrualNotFound
		}
		row.Status = accrual.StatusSettled
		row.UpdatedAt = at
	}
	return nil
}

func (r *AccrualRepository) list(match func(*accrual.MarginAccrual) bool) []*accrual.MarginAccrual {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*accrual.MarginAccrual
	for _, row := range r.data {
		if match(row) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AccrualDate.Equal(out[j].AccrualDate) {
			return out[i].AccrualDate.Before(out[j].AccrualDate)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}
