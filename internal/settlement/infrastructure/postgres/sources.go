package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	settlement "dealerpay/internal/settlement/domain"
)

const (
	defaultDeductionTable = "station_deductions"
	defaultBankTable      = "station_bank_details"
)

// DeductionSource reads agreed non-loan deductions per station-window.
type DeductionSource struct {
	db    *sql.DB
	table string
}

// NewDeductionSource constructs the source.
func NewDeductionSource(db *sql.DB, table string) (*DeductionSource, error) {
	if db == nil {
		return nil, errors.New("deduction source: nil db")
	}
	if table == "" {
		table = defaultDeductionTable
	}
	return &DeductionSource{db: db, table: table}, nil
}

// ListDeductions returns the deduction lines booked for a station-window.
func (s *DeductionSource) ListDeductions(ctx context.Context, stationID, windowID string) ([]settlement.DeductionLine, error) {
	query := fmt.Sprintf(`
SELECT code, description, amount
FROM %s
WHERE station_id = $1 AND window_id = $2
ORDER BY code`, s.table)

	rows, err := s.db.QueryContext(ctx, query, stationID, windowID)
	if err != nil {
		return nil, fmt.Errorf("load deductions: %w", err)
	}
	defer rows.Close()

	var out []settlement.DeductionLine
	for rows.Next() {
		var line settlement.DeductionLine
		if err := rows.Scan(&line.Code, &line.Description, &line.Amount); err != nil {
			return nil, fmt.Errorf("scan deduction: %w", err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// BankSource reads a station's payout account.
type BankSource struct {
	db    *sql.DB
	table string
}

// NewBankSource constructs the source.
func NewBankSource(db *sql.DB, table string) (*BankSource, error) {
	if db == nil {
		return nil, errors.New("bank source: nil db")
	}
	if table == "" {
		table = defaultBankTable
	}
	return &BankSource{db: db, table: table}, nil
}

// BankDetails returns the payout account on file for a station. A
// station with no account on file yields empty details.
func (s *BankSource) BankDetails(ctx context.Context, stationID string) (settlement.BankDetails, error) {
	query := fmt.Sprintf(`
SELECT account_name, account_number, bank_name, branch_code
FROM %s
WHERE station_id = $1`, s.table)

	var details settlement.BankDetails
	err := s.db.QueryRowContext(ctx, query, stationID).
		Scan(&details.AccountName, &details.AccountNumber, &details.BankName, &details.BranchCode)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.BankDetails{}, nil
	}
	if err != nil {
		return settlement.BankDetails{}, fmt.Errorf("load bank details: %w", err)
	}
	return details, nil
}
