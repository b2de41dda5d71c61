package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dealerpay/internal/loan"
)

// Settlement lifecycle statuses.
const (
	StatusCalculated = "Calculated"
	StatusApproved   = "Approved"
	StatusPaid       = "Paid"
	StatusDisputed   = "Disputed"
	StatusCancelled  = "Cancelled"
)

// SalesLine is a per-product aggregate inside a settlement snapshot.
type SalesLine struct {
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	Litres       decimal.Decimal `json:"litres"`
	MarginAmount decimal.Decimal `json:"marginAmount"`
	AccrualDays  int             `json:"accrualDays"`
}

// DeductionLine is one non-loan deduction applied to a settlement.
type DeductionLine struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// CalcSnapshot is the typed calculation detail persisted with a settlement.
type CalcSnapshot struct {
	Sales            []SalesLine        `json:"sales"`
	LoanInstallments []loan.Installment `json:"loanInstallments,omitempty"`
	OtherDeductions  []DeductionLine    `json:"otherDeductions,omitempty"`
	AccrualIDs       []string           `json:"accrualIds"`
}

// BankDetails is the payout account snapshot taken at calculation time.
type BankDetails struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
	BranchCode    string `json:"branchCode"`
}

// DealerSettlement is the payable position of a station for one pricing
// window. A (station, window) pair has at most one settlement.
type DealerSettlement struct {
	ID               string
	TenantID         string
	StationID        string
	WindowID         string
	SettlementNumber string
	PeriodStart      time.Time
	PeriodEnd        time.Time

	TotalLitres     decimal.Decimal
	GrossMargin     decimal.Decimal
	LoanDeduction   decimal.Decimal
	OtherDeductions decimal.Decimal
	TotalDeductions decimal.Decimal
	NetPayable      decimal.Decimal

	Status   string
	Snapshot CalcSnapshot
	Bank     BankDetails

	ApprovedBy       string
	ApprovedAt       time.Time
	PaidBy           string
	PaidAt           time.Time
	PaymentReference string
	PaymentMethod    string
	DisputeReason    string
	CancelReason     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deficit reports whether deductions exceed the gross margin.
func (s *DealerSettlement) Deficit() bool {
	return s.NetPayable.IsNegative()
}

// Approve moves the settlement from Calculated to Approved.
func (s *DealerSettlement) Approve(approvedBy string, at time.Time) error {
	if s.Status != StatusCalculated {
		return transitionError(s.Status, StatusApproved, StatusCalculated)
	}
	s.Status = StatusApproved
	s.ApprovedBy = approvedBy
	s.ApprovedAt = at
	s.UpdatedAt = at
	return nil
}

// MarkPaid moves the settlement from Approved to Paid with payment metadata.
func (s *DealerSettlement) MarkPaid(reference, method, paidBy string, at time.Time) error {
	if s.Status != StatusApproved {
		return transitionError(s.Status, StatusPaid, StatusApproved)
	}
	s.Status = StatusPaid
	s.PaymentReference = reference
	s.PaymentMethod = method
	s.PaidBy = paidBy
	s.PaidAt = at
	s.UpdatedAt = at
	return nil
}

// Dispute flags a Calculated or Approved settlement.
func (s *DealerSettlement) Dispute(reason string, at time.Time) error {
	if s.Status != StatusCalculated && s.Status != StatusApproved {
		return transitionError(s.Status, StatusDisputed, StatusCalculated+" or "+StatusApproved)
	}
	if reason == "" {
		return fmt.Errorf("%w: dispute requires a reason", ErrInvalidStateTransition)
	}
	s.Status = StatusDisputed
	s.DisputeReason = reason
	s.UpdatedAt = at
	return nil
}

// Cancel voids a Calculated or Approved settlement.
func (s *DealerSettlement) Cancel(reason string, at time.Time) error {
	if s.Status != StatusCalculated && s.Status != StatusApproved {
		return transitionError(s.Status, StatusCancelled, StatusCalculated+" or "+StatusApproved)
	}
	if reason == "" {
		return fmt.Errorf("%w: cancel requires a reason", ErrInvalidStateTransition)
	}
	s.Status = StatusCancelled
	s.CancelReason = reason
	s.UpdatedAt = at
	return nil
}

// Clone returns a detached copy.
func (s *DealerSettlement) Clone() *DealerSettlement {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Snapshot.Sales = append([]SalesLine(nil), s.Snapshot.Sales...)
	cp.Snapshot.LoanInstallments = append([]loan.Installment(nil), s.Snapshot.LoanInstallments...)
	cp.Snapshot.OtherDeductions = append([]DeductionLine(nil), s.Snapshot.OtherDeductions...)
	cp.Snapshot.AccrualIDs = append([]string(nil), s.Snapshot.AccrualIDs...)
	return &cp
}

// BuildSettlementNumber builds the human-facing settlement reference.
func BuildSettlementNumber(stationID, windowID string, at time.Time) string {
	return fmt.Sprintf("SETT-%s-%s-%s", stationID, windowID, at.UTC().Format("20060102150405"))
}

func transitionError(from, to, expected string) error {
	return fmt.Errorf("%w: cannot move %s to %s, requires %s", ErrInvalidStateTransition, from, to, expected)
}
