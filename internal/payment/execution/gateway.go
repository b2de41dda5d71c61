// Package execution defines the outbound payment gateway contract.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	settlement "dealerpay/internal/settlement/domain"
)

// Instruction is a single payout sent to the gateway.
type Instruction struct {
	SettlementID string
	StationID    string
	Amount       decimal.Decimal
	Currency     string
	Reference    string
	Method       string
	Bank         settlement.BankDetails
}

// Receipt is the gateway acknowledgement for a submitted payout.
type Receipt struct {
	TransactionID string
	ProcessedAt   time.Time
}

// FailedError is a payment the gateway rejected. It is distinguishable
// from transport errors so callers can record it against the item.
type FailedError struct {
	Code   string
	Reason string
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	return fmt.Sprintf("payment failed (%s): %s", e.Code, e.Reason)
}

// Gateway submits payout instructions to the payment provider.
type Gateway interface {
	Submit(ctx context.Context, instruction Instruction) (Receipt, error)
}
