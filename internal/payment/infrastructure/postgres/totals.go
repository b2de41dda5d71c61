package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaidTotals sums paid batch items for the rule engine's risk limits.
type PaidTotals struct {
	db         *sql.DB
	batchTable string
	itemTable  string
}

// NewPaidTotals constructs the totals source over the batch tables.
func NewPaidTotals(db *sql.DB, opts ...RepositoryOption) *PaidTotals {
	repo := &BatchRepository{batchTable: defaultBatchTable, itemTable: defaultItemTable}
	for _, opt := range opts {
		opt(repo)
	}
	return &PaidTotals{db: db, batchTable: repo.batchTable, itemTable: repo.itemTable}
}

// DailyTotal returns the sum paid out on a calendar day.
func (t *PaidTotals) DailyTotal(ctx context.Context, tenantID string, day time.Time) (decimal.Decimal, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return t.sumBetween(ctx, tenantID, start, start.AddDate(0, 0, 1))
}

// MonthlyTotal returns the sum paid out in a calendar month.
func (t *PaidTotals) MonthlyTotal(ctx context.Context, tenantID string, month time.Time) (decimal.Decimal, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return t.sumBetween(ctx, tenantID, start, start.AddDate(0, 1, 0))
}

func (t *PaidTotals) sumBetween(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	if t == nil || t.db == nil {
		return decimal.Zero, errors.New("payment totals: nil db")
	}
	query := fmt.Sprintf(`
SELECT COALESCE(SUM(i.amount), 0)
FROM %s i
JOIN %s b ON b.id = i.batch_id
WHERE b.tenant_id = $1 AND i.status = 'Paid'
  AND i.processed_at >= $2 AND i.processed_at < $3`, t.itemTable, t.batchTable)

	var total decimal.Decimal
	if err := t.db.QueryRowContext(ctx, query, tenantID, from, to).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
