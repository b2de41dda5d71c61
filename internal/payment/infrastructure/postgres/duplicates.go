package postgres

import (
	"context"
	"errors"
	"fmt"

	payment "dealerpay/internal/payment/domain"
)

// HasPendingPayment reports whether the settlement already sits in a
// live batch, paid or awaiting submission.
func (r *BatchRepository) HasPendingPayment(ctx context.Context, settlementID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("payment repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s i
	JOIN %s b ON b.id = i.batch_id
	WHERE i.settlement_id = $1
	  AND i.status <> $2
	  AND b.status <> $3
)`, r.itemTable, r.batchTable)

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, settlementID, payment.ItemStatusFailed, payment.BatchStatusCancelled).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
