package application

import (
	"context"
	"log"
	"testing"
	"time"

	"dealerpay/internal/pricing"
)

func newSweepResolver(t *testing.T) *pricing.StaticProvider {
	t.Helper()
	provider, err := pricing.NewStaticProvider([]pricing.Window{{
		ID:    "2026-W01",
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestSettlementSweepRunOnce_SettlesAndSkips(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccrual(t, "a1", "PMS", 5, "1000", "450")

	sweep := NewSweep(f.lifecycle, newSweepResolver(t), "tenant-a",
		[]string{"ST-001", "ST-002"}, time.Monday, "03:00", log.New(logWriter{t}, "", 0))

	runAt := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	successful, skipped, failed := sweep.RunOnce(context.Background(), runAt)
	if successful != 1 || skipped != 1 || failed != 0 {
		t.Fatalf("got %d/%d/%d, want 1 settled, 1 skipped, 0 failed", successful, skipped, failed)
	}

	s, err := f.repo.FindByStationWindow(context.Background(), "ST-001", "2026-W01")
	if err != nil || s == nil {
		t.Fatalf("load settlement: %v", err)
	}

	// once approved the station must not be recalculated
	if _, err := f.lifecycle.Approve(context.Background(), s.ID, "ops"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	successful, skipped, failed = sweep.RunOnce(context.Background(), runAt)
	if successful != 0 || skipped != 2 || failed != 0 {
		t.Fatalf("got %d/%d/%d after approval, want 0/2/0", successful, skipped, failed)
	}
}

func TestSettlementSweepRunOnce_NoWindowFailsAll(t *testing.T) {
	f := newFixture(t, nil)
	sweep := NewSweep(f.lifecycle, newSweepResolver(t), "tenant-a",
		[]string{"ST-001", "ST-002"}, time.Monday, "03:00", log.New(logWriter{t}, "", 0))

	_, _, failed := sweep.RunOnce(context.Background(), time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC))
	if failed != 2 {
		t.Fatalf("failed = %d, want 2", failed)
	}
}

func TestSettlementSweepShouldRun(t *testing.T) {
	s := &Sweep{weekday: time.Monday, at: "03:00"}
	monday := time.Date(2026, 1, 19, 3, 0, 10, 0, time.UTC)
	if !s.shouldRun(monday) {
		t.Fatal("expected run on Monday 03:00")
	}
	if s.shouldRun(monday.AddDate(0, 0, 1)) {
		t.Fatal("unexpected run on Tuesday")
	}
	if s.shouldRun(monday.Add(time.Minute)) {
		t.Fatal("unexpected run at 03:01")
	}
}
