package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	accrual "dealerpay/internal/accrual/domain"
	"dealerpay/internal/loan"
	"dealerpay/internal/pricing"
	settlement "dealerpay/internal/settlement/domain"
)

// DeductionSource supplies non-loan deductions for a station-window.
type DeductionSource interface {
	ListDeductions(ctx context.Context, stationID, windowID string) ([]settlement.DeductionLine, error)
}

/// ZeroDeductions is the default deduction source: none.
type ZeroDeductions struct{}

// ListDeductions returns no deductions.
func (ZeroDeductions) ListDeductions(ctx context.Context, stationID, windowID string) ([]settlement.DeductionLine, error) {
	_, _, _ = ctx, stationID, windowID
	return nil, nil
}

// BankSource supplies a station's payout account details.
type BankSource interface {
	BankDetails(ctx context.Context, stationID string) (settlement.BankDetails, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Calculator computes dealer settlements from accrued margins. It never
// persists; the lifecycle owns persistence.
type Calculator struct {
	accruals   accrual.Repository
	pricing    pricing.Provider
	loans      loan.Repository
	deductions DeductionSource
	bank       BankSource
	clock      Clock
}

// NewCalculator constructs the calculator. A nil deduction source means
// no deductions; a nil bank source leaves the bank snapshot empty.
func NewCalculator(
	accruals accrual.Repository,
	priceProvider pricing.Provider,
	loans loan.Repository,
	deductions DeductionSource,
	bank BankSource,
	clock Clock,
) (*Calculator, error) {
	if accruals == nil {
		return nil, errors.New("settlement calculator: nil accrual repository")
	}
	if priceProvider == nil {
		return nil, errors.New("settlement calculator: nil pricing provider")
	}
	if loans == nil {
		return nil, errors.New("settlement calculator: nil loan repository")
	}
	if deductions == nil {
		deductions = ZeroDeductions{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Calculator{
		accruals:   accruals,
		pricing:    priceProvider,
		loans:      loans,
		deductions: deductions,
		bank:       bank,
		clock:      clock,
	}, nil
}

// Calculate builds the settlement position for one station-window.
// Negative net payable is allowed and reported via Deficit.
func (c *Calculator) Calculate(ctx context.Context, tenantID, stationID, windowID string) (*settlement.DealerSettlement, error) {
	window, err := c.pricing.WindowDates(ctx, windowID)
	if err != nil {
		return nil, err
	}

	rows, err := c.accruals.ListByStationWindow(ctx, stationID, windowID)
	if err != nil {
		return nil, err
	}

	salesLines, accrualIDs, totalLitres, grossMargin := aggregateAccrued(rows)
	if len(accrualIDs) == 0 {
		return nil, settlement.ErrNoAccrualData
	}

	activeLoans, err := c.loans.ListActiveByStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	loanDeduction, installments := loan.TotalInstallmentsDue(activeLoans)

	otherLines, err := c.deductions.ListDeductions(ctx, stationID, windowID)
	if err != nil {
		return nil, err
	}
	otherTotal := decimal.Zero
	for _, line := range otherLines {
		otherTotal = otherTotal.Add(line.Amount)
	}

	var bank settlement.BankDetails
	if c.bank != nil {
		if bank, err = c.bank.BankDetails(ctx, stationID); err != nil {
			return nil, err
		}
	}

	now := c.clock.Now().UTC()
	totalDeductions := loanDeduction.Add(otherTotal)

	return &settlement.DealerSettlement{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		StationID:        stationID,
		WindowID:         windowID,
		SettlementNumber: settlement.BuildSettlementNumber(stationID, windowID, now),
		PeriodStart:      window.Start,
		PeriodEnd:        window.End,
		TotalLitres:      totalLitres,
		GrossMargin:      grossMargin,
		LoanDeduction:    loanDeduction,
		OtherDeductions:  otherTotal,
		TotalDeductions:  totalDeductions,
		NetPayable:       grossMargin.Sub(totalDeductions),
		Status:           settlement.StatusCalculated,
		Snapshot: settlement.CalcSnapshot{
			Sales:            salesLines,
			LoanInstallments: installments,
			OtherDeductions:  otherLines,
			AccrualIDs:       accrualIDs,
		},
		Bank:      bank,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func aggregateAccrued(rows []*accrual.MarginAccrual) ([]settlement.SalesLine, []string, decimal.Decimal, decimal.Decimal) {
	byProduct := make(map[string]*settlement.SalesLine)
	var order []string
	var ids []string
	totalLitres := decimal.Zero
	grossMargin := decimal.Zero

	for _, row := range rows {
		if row.Status != accrual.StatusAccrued {
			continue
		}
		line, ok := byProduct[row.ProductID]
		if !ok {
			line = &settlement.SalesLine{ProductID: row.ProductID, ProductName: row.ProductName}
			byProduct[row.ProductID] = line
			order = append(order, row.ProductID)
		}
		line.Litres = line.Litres.Add(row.LitresSold)
		line.MarginAmount = line.MarginAmount.Add(row.MarginAmount)
		line.AccrualDays++

		ids = append(ids, row.ID)
		totalLitres = totalLitres.Add(row.LitresSold)
		grossMargin = grossMargin.Add(row.MarginAmount)
	}

	lines := make([]settlement.SalesLine, 0, len(order))
	for _, productID := range order {
		lines = append(lines, *byProduct[productID])
	}
	return lines, ids, totalLitres, grossMargin
}
