package accrual

import (
	"time"

	"github.com/shopspring/decimal"
)

// Accrual lifecycle statuses.
const (
	StatusPending    = "Pending"
	StatusAccrued    = "Accrued"
	StatusSettled    = "Settled"
	StatusPostedToGL = "PostedToGL"
	StatusReversed   = "Reversed"
)

// PBULine is one price build-up component captured at accrual time.
type PBULine struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
}

// Adjustment is a single manual correction applied to an accrual.
// Entries are append-only; the folded amount lives on the accrual itself.
type Adjustment struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	AdjustedBy string          `json:"adjustedBy"`
	AdjustedAt time.Time       `json:"adjustedAt"`
}

// CalcDetail is the calculation snapshot stored with an accrual.
type CalcDetail struct {
	TransactionIDs []string     `json:"transactionIds"`
	PBUBreakdown   []PBULine    `json:"pbuBreakdown"`
	Adjustments    []Adjustment `json:"adjustments,omitempty"`
}

// MarginAccrual is one day of dealer margin for a (station, product,
// date, window) key.
type MarginAccrual struct {
	ID          string
	TenantID    string
	StationID   string
	ProductID   string
	ProductName string
	AccrualDate time.Time
	WindowID    string

	LitresSold   decimal.Decimal
	MarginRate   decimal.Decimal
	MarginAmount decimal.Decimal
	ExPumpPrice  decimal.Decimal

	CumulativeLitres decimal.Decimal
	CumulativeMargin decimal.Decimal

	Status string
	Detail CalcDetail

	JournalEntryID string
	GLAccount      string
	CostCenter     string

	ProcessedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Adjustable reports whether the accrual still accepts adjustments.
func (a *MarginAccrual) Adjustable() bool {
	return a.Status == StatusPending || a.Status == StatusAccrued
}

// ApplyAdjustment appends an adjustment entry and folds it into the amount.
func (a *MarginAccrual) ApplyAdjustment(amount decimal.Decimal, reason, by string, at time.Time) error {
	if a == nil {
		return ErrNilAccrual
	}
	if !a.Adjustable() {
		return ErrAlreadyProcessed
	}
	if reason == "" {
		return ErrValidation
	}
	a.Detail.Adjustments = append(a.Detail.Adjustments, Adjustment{
		Amount:     amount,
		Reason:     reason,
		AdjustedBy: by,
		AdjustedAt: at,
	})
	a.MarginAmount = a.MarginAmount.Add(amount)
	a.UpdatedAt = at
	return nil
}

// Clone returns a detached copy.
func (a *MarginAccrual) Clone() *MarginAccrual {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Detail.TransactionIDs = append([]string(nil), a.Detail.TransactionIDs...)
	cp.Detail.PBUBreakdown = append([]PBULine(nil), a.Detail.PBUBreakdown...)
	cp.Detail.Adjustments = append([]Adjustment(nil), a.Detail.Adjustments...)
	return &cp
}

// DateKey is the persisted representation of an accrual date.
func DateKey(date time.Time) string {
	return date.UTC().Format("20060102")
}

// BuildAccrualID builds the natural identity of an accrual row.
func BuildAccrualID(stationID, productID string, date time.Time, windowID string) string {
	return stationID + "|" + productID + "|" + DateKey(date) + "|" + windowID
}
