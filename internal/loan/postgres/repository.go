package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dealerpay/internal/loan"
)

const defaultLoanTable = "dealer_loans"

// LoanRepository is a Postgres implementation for dealer loans.
type LoanRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*LoanRepository)

// WithTable overrides the default table.
func WithTable(table string) RepositoryOption {
	return func(repo *LoanRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithTenantID sets the tenant id scope.
func WithTenantID(tenantID string) RepositoryOption {
	return func(repo *LoanRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewLoanRepository constructs a repository with defaults.
func NewLoanRepository(db *sql.DB, opts ...RepositoryOption) *LoanRepository {
	repo := &LoanRepository{db: db, table: defaultLoanTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const loanColumns = `
id, tenant_id, station_id, principal, outstanding_balance, annual_rate,
tenor_months, start_date, status, total_paid, payments_made,
last_payment_date, completion_date, created_at, updated_at`

// GetByID loads a single loan.
func (r *LoanRepository) GetByID(ctx context.Context, id string) (*loan.DealerLoan, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND id = $2`, loanColumns, r.table)
	l, err := scanLoan(r.db.QueryRowContext(ctx, query, r.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// ListActiveByStation returns active loans ordered by start date.
func (r *LoanRepository) ListActiveByStation(ctx context.Context, stationID string) ([]*loan.DealerLoan, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND status = '%s'
ORDER BY start_date`, loanColumns, r.table, loan.StatusActive)

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*loan.DealerLoan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Save upserts a loan.
func (r *LoanRepository) Save(ctx context.Context, l *loan.DealerLoan) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	if l == nil {
		return loan.ErrNilLoan
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, tenant_id, station_id, principal, outstanding_balance, annual_rate,
	tenor_months, start_date, status, total_paid, payments_made,
	last_payment_date, completion_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id)
DO UPDATE SET
	outstanding_balance = EXCLUDED.outstanding_balance,
	status = EXCLUDED.status,
	total_paid = EXCLUDED.total_paid,
	payments_made = EXCLUDED.payments_made,
	last_payment_date = EXCLUDED.last_payment_date,
	completion_date = EXCLUDED.completion_date,
	updated_at = EXCLUDED.updated_at`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		l.ID, r.tenantID, l.StationID, l.Principal, l.OutstandingBalance, l.AnnualRate,
		l.TenorMonths, l.StartDate, l.Status, l.TotalPaid, l.PaymentsMade,
		nullTime(l.LastPaymentDate), nullTime(l.CompletionDate), l.CreatedAt, l.UpdatedAt,
	)
	return err
}

// ApplyAllocations persists waterfall allocations to loan balances.
func (r *LoanRepository) ApplyAllocations(ctx context.Context, allocations []loan.Allocation, at time.Time) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	return ApplyAllocationsTx(ctx, r.db, r.table, r.tenantID, allocations, at)
}

// execer runs statements inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyAllocationsTx applies allocations using the given executor so callers
// can run the update inside a wider transaction.
func ApplyAllocationsTx(ctx context.Context, ex execer, table, tenantID string, allocations []loan.Allocation, at time.Time) error {
	if table == "" {
		table = defaultLoanTable
	}
	query := fmt.Sprintf(`
UPDATE %s
SET outstanding_balance = $3,
    total_paid = total_paid + $4,
    payments_made = payments_made + 1,
    last_payment_date = $5,
    status = $6,
    completion_date = CASE WHEN $6 = '%s' THEN $5 ELSE completion_date END,
    updated_at = $5
WHERE tenant_id = $1 AND id = $2`, table, loan.StatusCompleted)

	for _, alloc := range allocations {
		status := loan.StatusActive
		if alloc.Completed {
			status = loan.StatusCompleted
		}
		res, err := ex.ExecContext(ctx, query, tenantID, alloc.LoanID, alloc.NewBalance, alloc.Applied, at, status)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return loan.ErrLoanNotFound
		}
	}
	return nil
}

func (r *LoanRepository) checkReady() error {
	if r == nil || r.db == nil {
		return errors.New("loan repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("loan repo: empty tenant id")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(s scanner) (*loan.DealerLoan, error) {
	var l loan.DealerLoan
	var lastPayment, completion sql.NullTime
	err := s.Scan(
		&l.ID, &l.TenantID, &l.StationID, &l.Principal, &l.OutstandingBalance, &l.AnnualRate,
		&l.TenorMonths, &l.StartDate, &l.Status, &l.TotalPaid, &l.PaymentsMade,
		&lastPayment, &completion, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.LastPaymentDate = lastPayment.Time
	l.CompletionDate = completion.Time
	return &l, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
