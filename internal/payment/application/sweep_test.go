package application

import (
	"context"
	"log"
	"testing"
	"time"

	payment "dealerpay/internal/payment/domain"
	settlement "dealerpay/internal/settlement/domain"
)

func TestSweepRunOnce_PlansAndExecutes(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	f.seedApproved(t, 1, "500")
	f.seedApproved(t, 2, "700")

	logger := log.New(testLogWriter{t}, "", 0)
	sweep := NewSweep(f.orch, "tenant-1", "06:00", logger)

	executed, failed := sweep.RunOnce(context.Background())
	if executed != 1 || failed != 0 {
		t.Fatalf("executed=%d failed=%d, want 1/0", executed, failed)
	}

	done, err := f.batches.ListByStatus(context.Background(), payment.BatchStatusCompleted)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(done) != 1 || len(done[0].Items) != 2 {
		t.Fatalf("got %d completed batches, want 1 with 2 items", len(done))
	}

	s, err := f.settlements.GetByID(context.Background(), "SET-1")
	if err != nil || s == nil {
		t.Fatalf("load settlement: %v", err)
	}
	if s.Status != settlement.StatusPaid {
		t.Fatalf("settlement status = %s, want Paid", s.Status)
	}
}

func TestSweepRunOnce_NothingApproved(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	sweep := NewSweep(f.orch, "tenant-1", "06:00", log.New(testLogWriter{t}, "", 0))

	executed, failed := sweep.RunOnce(context.Background())
	if executed != 0 || failed != 0 {
		t.Fatalf("executed=%d failed=%d, want 0/0", executed, failed)
	}
}

func TestSweepShouldRun(t *testing.T) {
	s := &Sweep{dailyAt: "06:00"}
	at := func(h, m int) time.Time {
		return time.Date(2026, 1, 20, h, m, 30, 0, time.UTC)
	}
	if !s.shouldRun(at(6, 0)) {
		t.Fatal("expected run at 06:00")
	}
	if s.shouldRun(at(6, 1)) {
		t.Fatal("unexpected run at 06:01")
	}
	bad := &Sweep{dailyAt: "not-a-time"}
	if bad.shouldRun(at(6, 0)) {
		t.Fatal("unparseable schedule must never run")
	}
}
