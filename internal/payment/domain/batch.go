package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	settlement "dealerpay/internal/settlement/domain"
)

// Batch lifecycle statuses.
const (
	BatchStatusPending            = "Pending"
	BatchStatusProcessing         = "Processing"
	BatchStatusCompleted          = "Completed"
	BatchStatusPartiallyCompleted = "PartiallyCompleted"
	BatchStatusFailed             = "Failed"
	BatchStatusCancelled          = "Cancelled"
)

// Batch item statuses.
const (
	ItemStatusPending = "Pending"
	ItemStatusPaid    = "Paid"
	ItemStatusFailed  = "Failed"
)

// BatchItem is one payment instruction inside a batch.
type BatchItem struct {
	ID           string
	SettlementID string
	StationID    string
	Amount       decimal.Decimal
	Currency     string
	Reference    string
	Bank         settlement.BankDetails

	Status        string
	ErrorMessage  string
	TransactionID string
	ProcessedAt   time.Time
}

// PaymentBatch groups approved settlements into one payout run per
// payment method.
type PaymentBatch struct {
	ID          string
	TenantID    string
	BatchNumber string
	Method      string
	Status      string

	Items       []BatchItem
	TotalAmount decimal.Decimal

	CreatedBy   string
	ProcessedBy string
	StartedAt   time.Time
	CompletedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CountByStatus returns how many items carry the status.
func (b *PaymentBatch) CountByStatus(status string) int {
	count := 0
	for i := range b.Items {
		if b.Items[i].Status == status {
			count++
		}
	}
	return count
}

// Executable reports whether the batch can be sent to the gateway.
func (b *PaymentBatch) Executable() bool {
	return b.Status == BatchStatusPending || b.Status == BatchStatusPartiallyCompleted
}

// Finalize derives the terminal batch status from its items.
func (b *PaymentBatch) Finalize(at time.Time) {
	paid := b.CountByStatus(ItemStatusPaid)
	switch {
	case paid == len(b.Items):
		b.Status = BatchStatusCompleted
	case paid > 0:
		b.Status = BatchStatusPartiallyCompleted
	default:
		b.Status = BatchStatusFailed
	}
	b.CompletedAt = at
	b.UpdatedAt = at
}

// Clone returns a detached copy.
func (b *PaymentBatch) Clone() *PaymentBatch {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Items = append([]BatchItem(nil), b.Items...)
	return &cp
}

// BuildBatchNumber builds the human-facing batch reference.
func BuildBatchNumber(at time.Time, suffix int) string {
	return fmt.Sprintf("PB-%s-%03d", at.UTC().Format("20060102150405"), suffix)
}
