package application

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccrualProcessed is emitted after a daily batch is accrued.
type AccrualProcessed struct {
	TenantID    string          `json:"tenantId"`
	StationID   string          `json:"stationId"`
	AccrualDate time.Time       `json:"accrualDate"`
	WindowID    string          `json:"windowId"`
	Products    int             `json:"products"`
	TotalLitres decimal.Decimal `json:"totalLitres"`
	TotalMargin decimal.Decimal `json:"totalMargin"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (AccrualProcessed) EventName() string { return "accrual.processed" }

// AccrualAdjusted is emitted after a manual adjustment.
type AccrualAdjusted struct {
	TenantID   string          `json:"tenantId"`
	StationID  string          `json:"stationId"`
	AccrualID  string          `json:"accrualId"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	AdjustedBy string          `json:"adjustedBy"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (AccrualAdjusted) EventName() string { return "accrual.adjusted" }

// AccrualPosted is emitted after a window is bulk posted to the ledger.
type AccrualPosted struct {
	TenantID       string          `json:"tenantId"`
	StationID      string          `json:"stationId"`
	WindowID       string          `json:"windowId"`
	JournalEntryID string          `json:"journalEntryId"`
	RowsPosted     int             `json:"rowsPosted"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (AccrualPosted) EventName() string { return "accrual.posted" }
