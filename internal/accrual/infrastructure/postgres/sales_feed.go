package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dealerpay/internal/accrual/application"
	"dealerpay/internal/pricing"
)

const (
	defaultSalesTable   = "fuel_sales"
	defaultWindowsTable = "pricing_windows"
)

// SalesFeed reads finalized pump sales for the daily accrual sweep.
type SalesFeed struct {
	db           *sql.DB
	salesTable   string
	windowsTable string
}

// SalesFeedOption configures the feed.
type SalesFeedOption func(*SalesFeed)

// WithSalesTable overrides the sales table.
func WithSalesTable(table string) SalesFeedOption {
	return func(f *SalesFeed) {
		if table != "" {
			f.salesTable = table
		}
	}
}

// WithWindowsTable overrides the pricing windows table.
func WithWindowsTable(table string) SalesFeedOption {
	return func(f *SalesFeed) {
		if table != "" {
			f.windowsTable = table
		}
	}
}

// NewSalesFeed constructs a feed with defaults.
func NewSalesFeed(db *sql.DB, opts ...SalesFeedOption) (*SalesFeed, error) {
	if db == nil {
		return nil, errors.New("sales feed: nil db")
	}
	f := &SalesFeed{
		db:           db,
		salesTable:   defaultSalesTable,
		windowsTable: defaultWindowsTable,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ListDaySales returns a station's sales for one calendar day.
func (f *SalesFeed) ListDaySales(ctx context.Context, stationID string, date time.Time) ([]application.SalesTransaction, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	query := fmt.Sprintf(`
SELECT id, product_id, product_name, litres, unit_price, sold_at
FROM %s
WHERE station_id = $1 AND sold_at >= $2 AND sold_at < $3
ORDER BY sold_at`, f.salesTable)

	rows, err := f.db.QueryContext(ctx, query, stationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}
	defer rows.Close()

	var out []application.SalesTransaction
	for rows.Next() {
		var txn application.SalesTransaction
		err := rows.Scan(&txn.TransactionID, &txn.ProductID, &txn.ProductName,
			&txn.Litres, &txn.UnitPrice, &txn.SoldAt)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// CurrentWindowID returns the pricing window covering the date.
func (f *SalesFeed) CurrentWindowID(ctx context.Context, date time.Time) (string, error) {
	query := fmt.Sprintf(`
SELECT id
FROM %s
WHERE start_date <= $1 AND end_date >= $1
ORDER BY start_date DESC
LIMIT 1`, f.windowsTable)

	var id string
	if err := f.db.QueryRowContext(ctx, query, date).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", pricing.ErrWindowNotFound
		}
		return "", fmt.Errorf("resolve pricing window: %w", err)
	}
	return id, nil
}
