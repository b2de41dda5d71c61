package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	accrual "dealerpay/internal/accrual/domain"
	"dealerpay/internal/loan"
	loanpg "dealerpay/internal/loan/postgres"
	settlement "dealerpay/internal/settlement/domain"
)

const (
	defaultSettlementTable = "dealer_settlements"
	defaultAccrualTable    = "margin_accruals"
	defaultLoanTable       = "dealer_loans"
)

// SettlementRepository is a Postgres implementation for dealer
// settlements. Composite methods run in a single transaction.
type SettlementRepository struct {
	db           *sql.DB
	table        string
	accrualTable string
	loanTable    string
	tenantID     string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SettlementRepository)

// WithTable overrides the settlements table.
func WithTable(table string) RepositoryOption {
	return func(repo *SettlementRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithAccrualTable overrides the accruals table.
func WithAccrualTable(table string) RepositoryOption {
	return func(repo *SettlementRepository) {
		if table != "" {
			repo.accrualTable = table
		}
	}
}

// WithLoanTable overrides the loans table.
func WithLoanTable(table string) RepositoryOption {
	return func(repo *SettlementRepository) {
		if table != "" {
			repo.loanTable = table
		}
	}
}

// WithTenantID sets the tenant id scope.
func WithTenantID(tenantID string) RepositoryOption {
	return func(repo *SettlementRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewSettlementRepository constructs a repository with defaults.
func NewSettlementRepository(db *sql.DB, opts ...RepositoryOption) *SettlementRepository {
	repo := &SettlementRepository{
		db:           db,
		table:        defaultSettlementTable,
		accrualTable: defaultAccrualTable,
		loanTable:    defaultLoanTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const settlementColumns = `
id, tenant_id, station_id, window_id, settlement_number, period_start, period_end,
total_litres, gross_margin, loan_deduction, other_deductions, total_deductions, net_payable,
status, snapshot, bank,
approved_by, approved_at, paid_by, paid_at, payment_reference, payment_method,
dispute_reason, cancel_reason, created_at, updated_at`

// GetByID loads a single settlement.
func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*settlement.DealerSettlement, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND id = $2`, settlementColumns, r.table)
	s, err := scanSettlement(r.db.QueryRowContext(ctx, query, r.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// FindByStationWindow loads the settlement for a station-window.
func (r *SettlementRepository) FindByStationWindow(ctx context.Context, stationID, windowID string) (*settlement.DealerSettlement, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND window_id = $3
LIMIT 1`, settlementColumns, r.table)
	s, err := scanSettlement(r.db.QueryRowContext(ctx, query, r.tenantID, stationID, windowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByStatus returns settlements in a status ordered by approval time.
func (r *SettlementRepository) ListByStatus(ctx context.Context, status string) ([]*settlement.DealerSettlement, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND status = $2
ORDER BY approved_at NULLS LAST, created_at`, settlementColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*settlement.DealerSettlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveCalculated upserts a Calculated settlement and settles the
// consumed accruals in one transaction.
func (r *SettlementRepository) SaveCalculated(ctx context.Context, s *settlement.DealerSettlement, consumedAccrualIDs []string) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	if s == nil {
		return settlement.ErrNilSettlement
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	guard := fmt.Sprintf(`
SELECT status FROM %s
WHERE tenant_id = $1 AND station_id = $2 AND window_id = $3
FOR UPDATE`, r.table)

	var existingStatus string
	err = tx.QueryRowContext(ctx, guard, r.tenantID, s.StationID, s.WindowID).Scan(&existingStatus)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil && existingStatus != settlement.StatusCalculated {
		return settlement.ErrAlreadyProcessed
	}

	snapshot, bank, err := marshalDetails(s)
	if err != nil {
		return err
	}

	upsert := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
	NULLIF($17, ''), $18, NULLIF($19, ''), $20, NULLIF($21, ''), NULLIF($22, ''),
	NULLIF($23, ''), NULLIF($24, ''), $25, $26)
ON CONFLICT (tenant_id, station_id, window_id)
DO UPDATE SET
	settlement_number = EXCLUDED.settlement_number,
	period_start = EXCLUDED.period_start,
	period_end = EXCLUDED.period_end,
	total_litres = EXCLUDED.total_litres,
	gross_margin = EXCLUDED.gross_margin,
	loan_deduction = EXCLUDED.loan_deduction,
	other_deductions = EXCLUDED.other_deductions,
	total_deductions = EXCLUDED.total_deductions,
	net_payable = EXCLUDED.net_payable,
	status = EXCLUDED.status,
	snapshot = EXCLUDED.snapshot,
	bank = EXCLUDED.bank,
	updated_at = EXCLUDED.updated_at`, r.table, settlementColumns)

	_, err = tx.ExecContext(ctx, upsert,
		s.ID, r.tenantID, s.StationID, s.WindowID, s.SettlementNumber, s.PeriodStart, s.PeriodEnd,
		s.TotalLitres, s.GrossMargin, s.LoanDeduction, s.OtherDeductions, s.TotalDeductions, s.NetPayable,
		s.Status, snapshot, bank,
		s.ApprovedBy, nullableTime(s.ApprovedAt), s.PaidBy, nullableTime(s.PaidAt),
		s.PaymentReference, s.PaymentMethod, s.DisputeReason, s.CancelReason,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if len(consumedAccrualIDs) > 0 {
		settle := fmt.Sprintf(`
UPDATE %s SET status = '%s', updated_at = $2
WHERE tenant_id = $1 AND id = ANY($3) AND status = '%s'`,
			r.accrualTable, accrual.StatusSettled, accrual.StatusAccrued)
		if _, err := tx.ExecContext(ctx, settle, r.tenantID, s.UpdatedAt, consumedAccrualIDs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Transition persists the settlement where the stored status still
// equals from.
func (r *SettlementRepository) Transition(ctx context.Context, s *settlement.DealerSettlement, from string) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	if s == nil {
		return settlement.ErrNilSettlement
	}
	res, err := r.db.ExecContext(ctx, r.transitionQuery(), r.transitionArgs(s, from)...)
	if err != nil {
		return err
	}
	return checkTransition(res, from)
}

// MarkPaid persists the Paid settlement and applies loan allocations in
// one transaction, gated on Approved.
func (r *SettlementRepository) MarkPaid(ctx context.Context, s *settlement.DealerSettlement, allocations []loan.Allocation) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	if s == nil {
		return settlement.ErrNilSettlement
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, r.transitionQuery(), r.transitionArgs(s, settlement.StatusApproved)...)
	if err != nil {
		return err
	}
	if err := checkTransition(res, settlement.StatusApproved); err != nil {
		return err
	}

	if len(allocations) > 0 {
		if err := loanpg.ApplyAllocationsTx(ctx, tx, r.loanTable, r.tenantID, allocations, s.PaidAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SettlementRepository) transitionQuery() string {
	return fmt.Sprintf(`
UPDATE %s
SET status = $3,
	approved_by = NULLIF($4, ''), approved_at = $5,
	paid_by = NULLIF($6, ''), paid_at = $7,
	payment_reference = NULLIF($8, ''), payment_method = NULLIF($9, ''),
	dispute_reason = NULLIF($10, ''), cancel_reason = NULLIF($11, ''),
	updated_at = $12
WHERE tenant_id = $1 AND id = $2 AND status = $13`, r.table)
}

func (r *SettlementRepository) transitionArgs(s *settlement.DealerSettlement, from string) []any {
	return []any{
		r.tenantID, s.ID, s.Status,
		s.ApprovedBy, nullableTime(s.ApprovedAt),
		s.PaidBy, nullableTime(s.PaidAt),
		s.PaymentReference, s.PaymentMethod,
		s.DisputeReason, s.CancelReason,
		s.UpdatedAt, from,
	}
}

func checkTransition(res sql.Result, from string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: stored status is no longer %s", settlement.ErrInvalidStateTransition, from)
	}
	return nil
}

func (r *SettlementRepository) checkReady() error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("settlement repo: empty tenant id")
	}
	return nil
}

func marshalDetails(s *settlement.DealerSettlement) ([]byte, []byte, error) {
	snapshot, err := json.Marshal(s.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal settlement snapshot: %w", err)
	}
	bank, err := json.Marshal(s.Bank)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal bank details: %w", err)
	}
	return snapshot, bank, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSettlement(sc scanner) (*settlement.DealerSettlement, error) {
	var s settlement.DealerSettlement
	var snapshot, bank []byte
	var approvedBy, paidBy, paymentRef, paymentMethod, disputeReason, cancelReason sql.NullString
	var approvedAt, paidAt sql.NullTime

	err := sc.Scan(
		&s.ID, &s.TenantID, &s.StationID, &s.WindowID, &s.SettlementNumber, &s.PeriodStart, &s.PeriodEnd,
		&s.TotalLitres, &s.GrossMargin, &s.LoanDeduction, &s.OtherDeductions, &s.TotalDeductions, &s.NetPayable,
		&s.Status, &snapshot, &bank,
		&approvedBy, &approvedAt, &paidBy, &paidAt, &paymentRef, &paymentMethod,
		&disputeReason, &cancelReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &s.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal settlement snapshot: %w", err)
		}
	}
	if len(bank) > 0 {
		if err := json.Unmarshal(bank, &s.Bank); err != nil {
			return nil, fmt.Errorf("unmarshal bank details: %w", err)
		}
	}
	s.ApprovedBy = approvedBy.String
	s.ApprovedAt = approvedAt.Time
	s.PaidBy = paidBy.String
	s.PaidAt = paidAt.Time
	s.PaymentReference = paymentRef.String
	s.PaymentMethod = paymentMethod.String
	s.DisputeReason = disputeReason.String
	s.CancelReason = cancelReason.String
	return &s, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
