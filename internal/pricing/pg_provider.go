package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultWindowsTable    = "pricing_windows"
	defaultComponentsTable = "pricing_components"
)

// PostgresProvider resolves windows and margin rates from published pricing tables.
type PostgresProvider struct {
	db              *sql.DB
	windowsTable    string
	componentsTable string
}

// ProviderOption configures the provider.
type ProviderOption func(*PostgresProvider)

// WithWindowsTable overrides the windows table name.
func WithWindowsTable(table string) ProviderOption {
	return func(p *PostgresProvider) {
		if table != "" {
			p.windowsTable = table
		}
	}
}

// WithComponentsTable overrides the components table name.
func WithComponentsTable(table string) ProviderOption {
	return func(p *PostgresProvider) {
		if table != "" {
			p.componentsTable = table
		}
	}
}

// NewPostgresProvider constructs a provider.
func NewPostgresProvider(db *sql.DB, opts ...ProviderOption) (*PostgresProvider, error) {
	if db == nil {
		return nil, errors.New("pricing: nil db")
	}
	p := &PostgresProvider{
		db:              db,
		windowsTable:    defaultWindowsTable,
		componentsTable: defaultComponentsTable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WindowDates returns the calendar bounds of a pricing window.
func (p *PostgresProvider) WindowDates(ctx context.Context, windowID string) (Window, error) {
	query := fmt.Sprintf(`
SELECT id, start_date, end_date
FROM %s
WHERE id = $1`, p.windowsTable)

	var w Window
	if err := p.db.QueryRowContext(ctx, query, windowID).Scan(&w.ID, &w.Start, &w.End); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Window{}, ErrWindowNotFound
		}
		return Window{}, fmt.Errorf("load pricing window: %w", err)
	}
	return w, nil
}

// CurrentWindowID returns the window whose bounds cover the date. The
// latest start wins when windows overlap during a transition.
func (p *PostgresProvider) CurrentWindowID(ctx context.Context, date time.Time) (string, error) {
	query := fmt.Sprintf(`
SELECT id
FROM %s
WHERE start_date <= $1 AND end_date >= $1
ORDER BY start_date DESC
LIMIT 1`, p.windowsTable)

	var id string
	if err := p.db.QueryRowContext(ctx, query, date).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrWindowNotFound
		}
		return "", fmt.Errorf("resolve pricing window: %w", err)
	}
	return id, nil
}

// MarginRate returns the dealer margin per litre for a product in a window.
func (p *PostgresProvider) MarginRate(ctx context.Context, productID, windowID string) (decimal.Decimal, error) {
	query := fmt.Sprintf(`
SELECT rate
FROM %s
WHERE window_id = $1 AND product_id = $2 AND category = $3
LIMIT 1`, p.componentsTable)

	var raw string
	if err := p.db.QueryRowContext(ctx, query, windowID, productID, DealerMarginCategory).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrRateNotFound
		}
		return decimal.Zero, fmt.Errorf("load margin rate: %w", err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse margin rate: %w", err)
	}
	return rate, nil
}

// Components returns the build-up lines published for a window.
func (p *PostgresProvider) Components(ctx context.Context, windowID string) ([]Component, error) {
	query := fmt.Sprintf(`
SELECT code, name, category, product_id, rate
FROM %s
WHERE window_id = $1
ORDER BY code`, p.componentsTable)

	rows, err := p.db.QueryContext(ctx, query, windowID)
	if err != nil {
		return nil, fmt.Errorf("load pricing components: %w", err)
	}
	defer rows.Close()

	var out []Component
	for rows.Next() {
		var c Component
		var raw string
		if err := rows.Scan(&c.Code, &c.Name, &c.Category, &c.Product, &raw); err != nil {
			return nil, fmt.Errorf("scan pricing component: %w", err)
		}
		if c.Rate, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("parse component rate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
