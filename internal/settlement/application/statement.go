package application

import (
	"context"

	"github.com/shopspring/decimal"

	"dealerpay/internal/pricing"
	settlement "dealerpay/internal/settlement/domain"
)

// Performance ratings on a settlement statement.
const (
	RatingExcellent = "EXCELLENT"
	RatingGood      = "GOOD"
	RatingFair      = "FAIR"
	RatingPoor      = "POOR"
)

// PerformanceMetrics summarizes a window's dealer economics.
type PerformanceMetrics struct {
	MarginPerLitre     decimal.Decimal
	DeductionRatio     decimal.Decimal
	ProfitabilityIndex decimal.Decimal
	Rating             string
}

// StatementView is the read-only dealer statement for a settlement.
// Rendering is out of scope; the view is the contract.
type StatementView struct {
	SettlementNumber string
	StationID        string
	WindowID         string
	PeriodStart      string
	PeriodEnd        string
	Status           string

	Sales           []settlement.SalesLine
	PBUAnalysis     []pricing.Component
	LoanDeduction   decimal.Decimal
	OtherDeductions []settlement.DeductionLine
	GrossMargin     decimal.Decimal
	NetPayable      decimal.Decimal
	Deficit         bool

	Metrics PerformanceMetrics
}

// Statement builds the statement view for a calculated settlement,
// including the window's price build-up lines.
func (c *Calculator) Statement(ctx context.Context, s *settlement.DealerSettlement) (*StatementView, error) {
	if s == nil {
		return nil, settlement.ErrNilSettlement
	}
	components, err := c.pricing.Components(ctx, s.WindowID)
	if err != nil {
		return nil, err
	}

	return &StatementView{
		SettlementNumber: s.SettlementNumber,
		StationID:        s.StationID,
		WindowID:         s.WindowID,
		PeriodStart:      s.PeriodStart.UTC().Format("2006-01-02"),
		PeriodEnd:        s.PeriodEnd.UTC().Format("2006-01-02"),
		Status:           s.Status,
		Sales:            s.Snapshot.Sales,
		PBUAnalysis:      components,
		LoanDeduction:    s.LoanDeduction,
		OtherDeductions:  s.Snapshot.OtherDeductions,
		GrossMargin:      s.GrossMargin,
		NetPayable:       s.NetPayable,
		Deficit:          s.Deficit(),
		Metrics:          buildMetrics(s),
	}, nil
}

func buildMetrics(s *settlement.DealerSettlement) PerformanceMetrics {
	m := PerformanceMetrics{Rating: RatingPoor}
	if s.TotalLitres.IsPositive() {
		m.MarginPerLitre = s.GrossMargin.DivRound(s.TotalLitres, 4)
	}
	if s.GrossMargin.IsPositive() {
		m.DeductionRatio = s.TotalDeductions.DivRound(s.GrossMargin, 4)
		m.ProfitabilityIndex = s.NetPayable.DivRound(s.GrossMargin, 4)
	}
	switch {
	case m.ProfitabilityIndex.GreaterThanOrEqual(decimal.RequireFromString("0.9")):
		m.Rating = RatingExcellent
	case m.ProfitabilityIndex.GreaterThanOrEqual(decimal.RequireFromString("0.7")):
		m.Rating = RatingGood
	case m.ProfitabilityIndex.GreaterThanOrEqual(decimal.RequireFromString("0.5")):
		m.Rating = RatingFair
	}
	return m
}
