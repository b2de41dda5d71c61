package application

import (
	"context"
	"log"
	"time"
)

// SalesFeed supplies a station's sales for one day.
type SalesFeed interface {
	ListDaySales(ctx context.Context, stationID string, date time.Time) ([]SalesTransaction, error)
	// CurrentWindowID returns the pricing window covering the date.
	CurrentWindowID(ctx context.Context, date time.Time) (string, error)
}

// Sweep accrues yesterday's sales for every configured station on a
// daily schedule.
type Sweep struct {
	service  *Service
	feed     SalesFeed
	tenantID string
	stations []string
	dailyAt  string
	logger   *log.Logger
}

// NewSweep constructs the daily accrual sweep.
func NewSweep(service *Service, feed SalesFeed, tenantID string, stations []string, dailyAt string, logger *log.Logger) *Sweep {
	return &Sweep{
		service:  service,
		feed:     feed,
		tenantID: tenantID,
		stations: stations,
		dailyAt:  dailyAt,
		logger:   logger,
	}
}

// Start begins the sweep loop.
func (s *Sweep) Start(ctx context.Context) {
	if s == nil || s.service == nil || s.feed == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.RunOnce(ctx, now.UTC())
		}
	}
}

// RunOnce accrues the previous day for every station, isolating failures.
func (s *Sweep) RunOnce(ctx context.Context, now time.Time) (successful, failed int) {
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	windowID, err := s.feed.CurrentWindowID(ctx, date)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("accrual sweep: resolve window for %s: %v", date.Format("2006-01-02"), err)
		}
		return 0, len(s.stations)
	}

	for _, stationID := range s.stations {
		if stationID == "" {
			continue
		}
		txns, err := s.feed.ListDaySales(ctx, stationID, date)
		if err != nil {
			failed++
			if s.logger != nil {
				s.logger.Printf("accrual sweep: load sales station=%s: %v", stationID, err)
			}
			continue
		}
		_, err = s.service.ProcessDaily(ctx, DailyBatch{
			TenantID:     s.tenantID,
			StationID:    stationID,
			AccrualDate:  date,
			WindowID:     windowID,
			Transactions: txns,
			ProcessedBy:  "accrual-sweep",
		})
		if err != nil {
			failed++
			if s.logger != nil {
				s.logger.Printf("accrual sweep: station=%s: %v", stationID, err)
			}
			continue
		}
		successful++
	}
	return successful, failed
}

func (s *Sweep) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
