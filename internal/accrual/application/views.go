package application

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	accrual "dealerpay/internal/accrual/domain"
)

// ProductLine is a per-product row in a summary view.
type ProductLine struct {
	ProductID    string
	ProductName  string
	Days         int
	Litres       decimal.Decimal
	MarginAmount decimal.Decimal
}

// DaySummary is the accrual picture for one station-day.
type DaySummary struct {
	StationID   string
	Date        time.Time
	Lines       []ProductLine
	TotalLitres decimal.Decimal
	TotalMargin decimal.Decimal
}

// WindowSummaryView aggregates a station's accruals across a pricing window.
type WindowSummaryView struct {
	StationID         string
	WindowID          string
	Lines             []ProductLine
	TotalLitres       decimal.Decimal
	TotalMargin       decimal.Decimal
	AvgMarginPerLitre decimal.Decimal
	AccruedDays       int
	TotalDays         int
}

// DayPoint is one day in a trend series.
type DayPoint struct {
	Date   time.Time
	Litres decimal.Decimal
	Margin decimal.Decimal
}

// TrendView is a daily margin trend over a trailing period.
type TrendView struct {
	StationID string
	Days      []DayPoint
	BestDay   DayPoint
	WorstDay  DayPoint
}

// DailySummary returns the per-product accrual lines for a station-day.
func (s *Service) DailySummary(ctx context.Context, stationID string, date time.Time) (*DaySummary, error) {
	rows, err := s.repo.ListByStationDate(ctx, stationID, date)
	if err != nil {
		return nil, err
	}

	out := &DaySummary{StationID: stationID, Date: date}
	for _, row := range rows {
		out.Lines = append(out.Lines, ProductLine{
			ProductID:    row.ProductID,
			ProductName:  row.ProductName,
			Days:         1,
			Litres:       row.LitresSold,
			MarginAmount: row.MarginAmount,
		})
		out.TotalLitres = out.TotalLitres.Add(row.LitresSold)
		out.TotalMargin = out.TotalMargin.Add(row.MarginAmount)
	}
	return out, nil
}

// WindowSummary aggregates a station's accruals for a pricing window.
func (s *Service) WindowSummary(ctx context.Context, stationID, windowID string) (*WindowSummaryView, error) {
	window, err := s.pricing.WindowDates(ctx, windowID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByStationWindow(ctx, stationID, windowID)
	if err != nil {
		return nil, err
	}

	out := &WindowSummaryView{StationID: stationID, WindowID: windowID}
	byProduct := make(map[string]*ProductLine)
	var order []string
	days := make(map[string]struct{})

	for _, row := range rows {
		line, ok := byProduct[row.ProductID]
		if !ok {
			line = &ProductLine{ProductID: row.ProductID, ProductName: row.ProductName}
			byProduct[row.ProductID] = line
			order = append(order, row.ProductID)
		}
		line.Days++
		line.Litres = line.Litres.Add(row.LitresSold)
		line.MarginAmount = line.MarginAmount.Add(row.MarginAmount)

		out.TotalLitres = out.TotalLitres.Add(row.LitresSold)
		out.TotalMargin = out.TotalMargin.Add(row.MarginAmount)
		days[accrual.DateKey(row.AccrualDate)] = struct{}{}
	}
	for _, productID := range order {
		out.Lines = append(out.Lines, *byProduct[productID])
	}

	if out.TotalLitres.IsPositive() {
		out.AvgMarginPerLitre = out.TotalMargin.DivRound(out.TotalLitres, 4)
	}
	out.AccruedDays = len(days)
	out.TotalDays = int(window.End.Sub(window.Start).Hours()/24) + 1
	return out, nil
}

// Trends returns the daily margin series for a trailing period with the
// best and worst days by margin.
func (s *Service) Trends(ctx context.Context, stationID string, periodDays int) (*TrendView, error) {
	if periodDays <= 0 {
		return nil, accrual.ErrValidation
	}
	from := s.clock.Now().UTC().AddDate(0, 0, -periodDays)
	rows, err := s.repo.ListByStationSince(ctx, stationID, from)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*DayPoint)
	for _, row := range rows {
		key := accrual.DateKey(row.AccrualDate)
		point, ok := byDay[key]
		if !ok {
			point = &DayPoint{Date: row.AccrualDate}
			byDay[key] = point
		}
		point.Litres = point.Litres.Add(row.LitresSold)
		point.Margin = point.Margin.Add(row.MarginAmount)
	}

	out := &TrendView{StationID: stationID}
	for _, point := range byDay {
		out.Days = append(out.Days, *point)
	}
	sort.Slice(out.Days, func(i, j int) bool { return out.Days[i].Date.Before(out.Days[j].Date) })

	for i, point := range out.Days {
		if i == 0 {
			out.BestDay = point
			out.WorstDay = point
			continue
		}
		if point.Margin.GreaterThan(out.BestDay.Margin) {
			out.BestDay = point
		}
		if point.Margin.LessThan(out.WorstDay.Margin) {
			out.WorstDay = point
		}
	}
	return out, nil
}
