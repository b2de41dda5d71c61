package application

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementCalculated is emitted when a settlement is created or
// recalculated.
type SettlementCalculated struct {
	TenantID         string          `json:"tenantId"`
	StationID        string          `json:"stationId"`
	WindowID         string          `json:"windowId"`
	SettlementID     string          `json:"settlementId"`
	SettlementNumber string          `json:"settlementNumber"`
	GrossMargin      decimal.Decimal `json:"grossMargin"`
	NetPayable       decimal.Decimal `json:"netPayable"`
	Deficit          bool            `json:"deficit"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (SettlementCalculated) EventName() string { return "settlement.calculated" }

// SettlementNegativeBalance flags a settlement whose deductions exceed
// the gross margin.
type SettlementNegativeBalance struct {
	TenantID     string          `json:"tenantId"`
	StationID    string          `json:"stationId"`
	WindowID     string          `json:"windowId"`
	SettlementID string          `json:"settlementId"`
	NetPayable   decimal.Decimal `json:"netPayable"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (SettlementNegativeBalance) EventName() string { return "settlement.negative-balance" }

// SettlementApproved is emitted when a settlement is approved for payout.
type SettlementApproved struct {
	TenantID     string          `json:"tenantId"`
	StationID    string          `json:"stationId"`
	SettlementID string          `json:"settlementId"`
	NetPayable   decimal.Decimal `json:"netPayable"`
	ApprovedBy   string          `json:"approvedBy"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (SettlementApproved) EventName() string { return "settlement.approved" }

// SettlementPaid is emitted once payment metadata is recorded.
type SettlementPaid struct {
	TenantID         string          `json:"tenantId"`
	StationID        string          `json:"stationId"`
	SettlementID     string          `json:"settlementId"`
	PaymentReference string          `json:"paymentReference"`
	PaymentMethod    string          `json:"paymentMethod"`
	Amount           decimal.Decimal `json:"amount"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (SettlementPaid) EventName() string { return "settlement.paid" }

// LoanPaymentApplied is emitted per loan repaid from a settlement payout.
type LoanPaymentApplied struct {
	TenantID     string          `json:"tenantId"`
	StationID    string          `json:"stationId"`
	LoanID       string          `json:"loanId"`
	SettlementID string          `json:"settlementId"`
	Amount       decimal.Decimal `json:"amount"`
	NewBalance   decimal.Decimal `json:"newBalance"`
	Completed    bool            `json:"completed"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (LoanPaymentApplied) EventName() string { return "loan.payment.applied" }
