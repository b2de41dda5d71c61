package application

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentBatchCreated is emitted when a planned batch is persisted.
type PaymentBatchCreated struct {
	TenantID    string          `json:"tenantId"`
	BatchID     string          `json:"batchId"`
	BatchNumber string          `json:"batchNumber"`
	Method      string          `json:"method"`
	Items       int             `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventName returns the published event type.
func (PaymentBatchCreated) EventName() string { return "payment.batch.created" }

// PaymentBatchCompleted is emitted after a batch execution run.
type PaymentBatchCompleted struct {
	TenantID   string    `json:"tenantId"`
	BatchID    string    `json:"batchId"`
	Status     string    `json:"status"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventName returns the published event type.
func (PaymentBatchCompleted) EventName() string { return "payment.batch.completed" }

// PaymentRetryCompleted is emitted after a retry run.
type PaymentRetryCompleted struct {
	TenantID   string    `json:"tenantId"`
	BatchID    string    `json:"batchId"`
	Status     string    `json:"status"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventName returns the published event type.
func (PaymentRetryCompleted) EventName() string { return "payment.retry.completed" }
