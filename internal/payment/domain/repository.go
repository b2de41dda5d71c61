package payment

import "context"

// Repository persists payment batches with their items atomically.
type Repository interface {
	GetByID(ctx context.Context, id string) (*PaymentBatch, error)
	ListByStatus(ctx context.Context, status string) ([]*PaymentBatch, error)
	// Save upserts the batch and all of its items in one transaction.
	Save(ctx context.Context, b *PaymentBatch) error
	// UpdateItem persists a single item's state so progress survives a
	// mid-batch stop.
	UpdateItem(ctx context.Context, batchID string, item BatchItem) error
}
