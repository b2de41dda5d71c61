package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	accrual "dealerpay/internal/accrual/domain"
)

const defaultAccrualTable = "margin_accruals"

// AccrualRepository is a Postgres implementation for margin accruals.
type AccrualRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*AccrualRepository)

// WithTable overrides the default table.
func WithTable(table string) RepositoryOption {
	return func(repo *AccrualRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithTenantID sets the tenant id scope.
func WithTenantID(tenantID string) RepositoryOption {
	return func(repo *AccrualRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewAccrualRepository constructs a repository with defaults.
func NewAccrualRepository(db *sql.DB, opts ...RepositoryOption) *AccrualRepository {
	repo := &AccrualRepository{
		db:    db,
		table: defaultAccrualTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const accrualColumns = `
id, tenant_id, station_id, product_id, product_name, accrual_date, window_id,
litres_sold, margin_rate, margin_amount, ex_pump_price,
cumulative_litres, cumulative_margin, status, detail,
journal_entry_id, gl_account, cost_center, processed_by, created_at, updated_at`

// GetByID loads a single accrual.
func (r *AccrualRepository) GetByID(ctx context.Context, id string) (*accrual.MarginAccrual, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND id = $2`, accrualColumns, r.table)
	row, err := scanAccrual(r.db.QueryRowContext(ctx, query, r.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

// ListByStationDate returns the accruals for a station-day.
func (r *AccrualRepository) ListByStationDate(ctx context.Context, stationID string, date time.Time) ([]*accrual.MarginAccrual, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND accrual_date = $3
ORDER BY product_id`, accrualColumns, r.table)
	return r.query(ctx, query, r.tenantID, stationID, dateOnly(date))
}

// ListByStationWindow returns the accruals for a station-window.
func (r *AccrualRepository) ListByStationWindow(ctx context.Context, stationID, windowID string) ([]*accrual.MarginAccrual, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND window_id = $3
ORDER BY accrual_date, product_id`, accrualColumns, r.table)
	return r.query(ctx, query, r.tenantID, stationID, windowID)
}

// ListByStationSince returns the accruals on or after a date.
func (r *AccrualRepository) ListByStationSince(ctx context.Context, stationID string, from time.Time) ([]*accrual.MarginAccrual, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND accrual_date >= $3
ORDER BY accrual_date, product_id`, accrualColumns, r.table)
	return r.query(ctx, query, r.tenantID, stationID, dateOnly(from))
}

// LatestCumulative returns the window running totals strictly before a date.
func (r *AccrualRepository) LatestCumulative(ctx context.Context, stationID, productID, windowID string, before time.Time) (accrual.Cumulative, error) {
	if err := r.check(); err != nil {
		return accrual.Cumulative{}, err
	}
	query := fmt.Sprintf(`
SELECT cumulative_litres, cumulative_margin
FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND product_id = $3 AND window_id = $4
  AND accrual_date < $5
ORDER BY accrual_date DESC
LIMIT 1`, r.table)

	var cum accrual.Cumulative
	err := r.db.QueryRowContext(ctx, query, r.tenantID, stationID, productID, windowID, dateOnly(before)).
		Scan(&cum.Litres, &cum.Margin)
	if errors.Is(err, sql.ErrNoRows) {
		return accrual.Cumulative{}, nil
	}
	return cum, err
}

// Replace swaps the Pending/Accrued rows of a station-day-window key in
// one transaction. Rows past Accrued fail the whole call.
func (r *AccrualRepository) Replace(ctx context.Context, stationID string, date time.Time, windowID string, accruals []*accrual.MarginAccrual) error {
	if err := r.check(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	guard := fmt.Sprintf(`
SELECT COUNT(*) FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND accrual_date = $3 AND window_id = $4
  AND status NOT IN ('%s', '%s')`, r.table, accrual.StatusPending, accrual.StatusAccrued)

	var blocked int
	if err := tx.QueryRowContext(ctx, guard, r.tenantID, stationID, dateOnly(date), windowID).Scan(&blocked); err != nil {
		return err
	}
	if blocked > 0 {
		return accrual.ErrAlreadyProcessed
	}

	del := fmt.Sprintf(`
DELETE FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND accrual_date = $3 AND window_id = $4`, r.table)
	if _, err := tx.ExecContext(ctx, del, r.tenantID, stationID, dateOnly(date), windowID); err != nil {
		return err
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		r.table, strings.TrimSpace(accrualColumns))

	for _, row := range accruals {
		detail, err := json.Marshal(row.Detail)
		if err != nil {
			return fmt.Errorf("marshal accrual detail: %w", err)
		}
		_, err = tx.ExecContext(ctx, insert,
			row.ID, r.tenantID, row.StationID, row.ProductID, row.ProductName,
			dateOnly(row.AccrualDate), row.WindowID,
			row.LitresSold, row.MarginRate, row.MarginAmount, row.ExPumpPrice,
			row.CumulativeLitres, row.CumulativeMargin, row.Status, detail,
			row.JournalEntryID, row.GLAccount, row.CostCenter, row.ProcessedBy,
			row.CreatedAt, row.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Update persists adjustment changes to a single accrual.
func (r *AccrualRepository) Update(ctx context.Context, row *accrual.MarginAccrual) error {
	if err := r.check(); err != nil {
		return err
	}
	if row == nil {
		return accrual.ErrNilAccrual
	}
	detail, err := json.Marshal(row.Detail)
	if err != nil {
		return fmt.Errorf("marshal accrual detail: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET margin_amount = $3, detail = $4, status = $5, updated_at = $6
WHERE tenant_id = $1 AND id = $2`, r.table)

	res, err := r.db.ExecContext(ctx, query, r.tenantID, row.ID, row.MarginAmount, detail, row.Status, row.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return accrual.ErrAccrualNotFound
	}
	return nil
}

// MarkPosted flips Accrued rows of a station-window to PostedToGL.
func (r *AccrualRepository) MarkPosted(ctx context.Context, stationID, windowID, journalEntryID, glAccount, costCenter string, at time.Time) (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = '%s', journal_entry_id = $4, gl_account = $5, cost_center = $6, updated_at = $7
WHERE tenant_id = $1 AND station_id = $2 AND window_id = $3 AND status = '%s'`,
		r.table, accrual.StatusPostedToGL, accrual.StatusAccrued)

	res, err := r.db.ExecContext(ctx, query, r.tenantID, stationID, windowID, journalEntryID, glAccount, costCenter, at)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *AccrualRepository) check() error {
	if r == nil || r.db == nil {
		return errors.New("accrual repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("accrual repo: empty tenant id")
	}
	return nil
}

func (r *AccrualRepository) query(ctx context.Context, query string, args ...any) ([]*accrual.MarginAccrual, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*accrual.MarginAccrual
	for rows.Next() {
		row, err := scanAccrual(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccrual(s scanner) (*accrual.MarginAccrual, error) {
	var row accrual.MarginAccrual
	var detail []byte
	var journalEntryID, glAccount, costCenter, processedBy sql.NullString
	err := s.Scan(
		&row.ID, &row.TenantID, &row.StationID, &row.ProductID, &row.ProductName,
		&row.AccrualDate, &row.WindowID,
		&row.LitresSold, &row.MarginRate, &row.MarginAmount, &row.ExPumpPrice,
		&row.CumulativeLitres, &row.CumulativeMargin, &row.Status, &detail,
		&journalEntryID, &glAccount, &costCenter, &processedBy,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &row.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal accrual detail: %w", err)
		}
	}
	row.JournalEntryID = journalEntryID.String
	row.GLAccount = glAccount.String
	row.CostCenter = costCenter.String
	row.ProcessedBy = processedBy.String
	return &row, nil
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
