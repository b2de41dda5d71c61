package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	payment "dealerpay/internal/payment/domain"
)

const (
	defaultBatchTable = "payment_batches"
	defaultItemTable  = "payment_batch_items"
)

// BatchRepository is a Postgres implementation for payment batches.
// Save writes the batch and all of its items in one transaction.
type BatchRepository struct {
	db         *sql.DB
	batchTable string
	itemTable  string
	tenantID   string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*BatchRepository)

// WithBatchTable overrides the batches table.
func WithBatchTable(table string) RepositoryOption {
	return func(repo *BatchRepository) {
		if table != "" {
			repo.batchTable = table
		}
	}
}

// WithItemTable overrides the batch items table.
func WithItemTable(table string) RepositoryOption {
	return func(repo *BatchRepository) {
		if table != "" {
			repo.itemTable = table
		}
	}
}

// WithTenantID sets the tenant id scope.
func WithTenantID(tenantID string) RepositoryOption {
	return func(repo *BatchRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewBatchRepository constructs a repository with defaults.
func NewBatchRepository(db *sql.DB, opts ...RepositoryOption) *BatchRepository {
	repo := &BatchRepository{
		db:         db,
		batchTable: defaultBatchTable,
		itemTable:  defaultItemTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const batchColumns = `
id, tenant_id, batch_number, method, status, total_amount,
created_by, processed_by, started_at, completed_at, created_at, updated_at`

const itemColumns = `
id, batch_id, settlement_id, station_id, amount, currency, reference, bank,
status, error_message, transaction_id, processed_at`

// GetByID loads a batch with its items.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*payment.PaymentBatch, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND id = $2`, batchColumns, r.batchTable)
	b, err := scanBatch(r.db.QueryRowContext(ctx, query, r.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListByStatus returns batches in a status ordered by creation time,
// items included.
func (r *BatchRepository) ListByStatus(ctx context.Context, status string) ([]*payment.PaymentBatch, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND status = $2
ORDER BY created_at`, batchColumns, r.batchTable)

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payment.PaymentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range out {
		if err := r.loadItems(ctx, b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Save upserts the batch and all of its items in one transaction.
func (r *BatchRepository) Save(ctx context.Context, b *payment.PaymentBatch) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	if b == nil {
		return payment.ErrNilBatch
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	upsert := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
ON CONFLICT (id)
DO UPDATE SET
	status = EXCLUDED.status,
	total_amount = EXCLUDED.total_amount,
	processed_by = EXCLUDED.processed_by,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	updated_at = EXCLUDED.updated_at`, r.batchTable, batchColumns)

	_, err = tx.ExecContext(ctx, upsert,
		b.ID, r.tenantID, b.BatchNumber, b.Method, b.Status, b.TotalAmount,
		b.CreatedBy, b.ProcessedBy, nullableTime(b.StartedAt), nullableTime(b.CompletedAt),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for i := range b.Items {
		if err := upsertItem(ctx, tx, r.itemTable, b.ID, b.Items[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateItem persists a single item's state.
func (r *BatchRepository) UpdateItem(ctx context.Context, batchID string, item payment.BatchItem) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $3, error_message = NULLIF($4, ''), transaction_id = NULLIF($5, ''), processed_at = $6
WHERE batch_id = $1 AND id = $2`, r.itemTable)

	res, err := r.db.ExecContext(ctx, query,
		batchID, item.ID, item.Status, item.ErrorMessage, item.TransactionID, nullableTime(item.ProcessedAt))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payment.ErrBatchNotFound
	}
	return nil
}

func upsertItem(ctx context.Context, tx *sql.Tx, table, batchID string, item payment.BatchItem) error {
	bank, err := json.Marshal(item.Bank)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12)
ON CONFLICT (id)
DO UPDATE SET
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	transaction_id = EXCLUDED.transaction_id,
	processed_at = EXCLUDED.processed_at`, table, itemColumns)

	_, err = tx.ExecContext(ctx, query,
		item.ID, batchID, item.SettlementID, item.StationID, item.Amount, item.Currency,
		item.Reference, bank, item.Status, item.ErrorMessage, item.TransactionID,
		nullableTime(item.ProcessedAt),
	)
	return err
}

func (r *BatchRepository) loadItems(ctx context.Context, b *payment.PaymentBatch) error {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = $1 ORDER BY id`, itemColumns, r.itemTable)
	rows, err := r.db.QueryContext(ctx, query, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item          payment.BatchItem
			batchID       string
			bank          []byte
			errorMessage  sql.NullString
			transactionID sql.NullString
			processedAt   sql.NullTime
		)
		err := rows.Scan(
			&item.ID, &batchID, &item.SettlementID, &item.StationID,
			&item.Amount, &item.Currency, &item.Reference, &bank,
			&item.Status, &errorMessage, &transactionID, &processedAt,
		)
		if err != nil {
			return err
		}
		if len(bank) > 0 {
			if err := json.Unmarshal(bank, &item.Bank); err != nil {
				return err
			}
		}
		item.ErrorMessage = errorMessage.String
		item.TransactionID = transactionID.String
		if processedAt.Valid {
			item.ProcessedAt = processedAt.Time
		}
		b.Items = append(b.Items, item)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*payment.PaymentBatch, error) {
	var (
		b           payment.PaymentBatch
		tenantID    string
		createdBy   sql.NullString
		processedBy sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&b.ID, &tenantID, &b.BatchNumber, &b.Method, &b.Status, &b.TotalAmount,
		&createdBy, &processedBy, &startedAt, &completedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.TenantID = tenantID
	b.CreatedBy = createdBy.String
	b.ProcessedBy = processedBy.String
	if startedAt.Valid {
		b.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = completedAt.Time
	}
	return &b, nil
}

func (r *BatchRepository) checkReady() error {
	if r == nil || r.db == nil {
		return errors.New("payment repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("payment repo: empty tenant id")
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
