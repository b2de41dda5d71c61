package memory

import (
	"context"
	"sort"
	"sync"

	payment "dealerpay/internal/payment/domain"
)

// BatchRepository is an in-memory repository for payment batches.
type BatchRepository struct {
	mu   sync.RWMutex
	data map[string]*payment.PaymentBatch
}

// NewBatchRepository constructs an empty repository.
func NewBatchRepository() *BatchRepository {
	return &BatchRepository{data: make(map[string]*payment.PaymentBatch)}
}

// GetByID loads a single batch.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*payment.PaymentBatch, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := r.data[id]
	if b == nil {
		return nil, nil
	}
	return b.Clone(), nil
}

// ListByStatus returns batches in a status ordered by creation time.
func (r *BatchRepository) ListByStatus(ctx context.Context, status string) ([]*payment.PaymentBatch, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*payment.PaymentBatch
	for _, b := range r.data {
		if b.Status == status {
			out = append(out, b.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Save upserts the batch and all of its items.
func (r *BatchRepository) Save(ctx context.Context, b *payment.PaymentBatch) error {
	_ = ctx
	if b == nil {
		return payment.ErrNilBatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[b.ID] = b.Clone()
	return nil
}

// UpdateItem persists a single item's state.
func (r *BatchRepository) UpdateItem(ctx context.Context, batchID string, item payment.BatchItem) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.data[batchID]
	if b == nil {
		return payment.ErrBatchNotFound
	}
	for i := range b.Items {
		if b.Items[i].ID == item.ID {
			b.Items[i] = item
			return nil
		}
	}
	return payment.ErrBatchNotFound
}
