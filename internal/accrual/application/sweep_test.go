package application

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"dealerpay/internal/accrual/infrastructure/memory"
	"dealerpay/internal/pricing"
)

type stubFeed struct {
	sales    map[string][]SalesTransaction
	failFor  map[string]error
	windowID string
	windows  error
}

func (f *stubFeed) ListDaySales(_ context.Context, stationID string, _ time.Time) ([]SalesTransaction, error) {
	if err := f.failFor[stationID]; err != nil {
		return nil, err
	}
	return f.sales[stationID], nil
}

func (f *stubFeed) CurrentWindowID(context.Context, time.Time) (string, error) {
	if f.windows != nil {
		return "", f.windows
	}
	return f.windowID, nil
}

func TestAccrualSweepRunOnce_IsolatesStationFailures(t *testing.T) {
	repo := memory.NewAccrualRepository()
	svc := newTestService(t, repo, &recordingPublisher{})

	feed := &stubFeed{
		windowID: "2026-W01",
		sales: map[string][]SalesTransaction{
			"ST-001": {{TransactionID: "t1", ProductID: "PMS", ProductName: "Petrol", Litres: dec("1000"), UnitPrice: dec("12.00")}},
			"ST-003": {{TransactionID: "t2", ProductID: "AGO", ProductName: "Diesel", Litres: dec("400"), UnitPrice: dec("13.10")}},
		},
		failFor: map[string]error{"ST-002": errors.New("feed offline")},
	}
	sweep := NewSweep(svc, feed, "tenant-a", []string{"ST-001", "ST-002", "ST-003"}, "01:30", log.New(testWriter{t}, "", 0))

	successful, failed := sweep.RunOnce(context.Background(), time.Date(2026, 1, 6, 1, 30, 0, 0, time.UTC))
	if successful != 2 || failed != 1 {
		t.Fatalf("successful=%d failed=%d, want 2/1", successful, failed)
	}

	rows, err := repo.ListByStationDate(context.Background(), "ST-001", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("list accruals: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d accruals for ST-001, want 1", len(rows))
	}
}

func TestAccrualSweepRunOnce_WindowResolutionFailureFailsAll(t *testing.T) {
	repo := memory.NewAccrualRepository()
	svc := newTestService(t, repo, &recordingPublisher{})
	feed := &stubFeed{windows: pricing.ErrWindowNotFound}
	sweep := NewSweep(svc, feed, "tenant-a", []string{"ST-001", "ST-002"}, "01:30", log.New(testWriter{t}, "", 0))

	successful, failed := sweep.RunOnce(context.Background(), time.Date(2026, 1, 6, 1, 30, 0, 0, time.UTC))
	if successful != 0 || failed != 2 {
		t.Fatalf("successful=%d failed=%d, want 0/2", successful, failed)
	}
}
