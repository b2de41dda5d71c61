package application

import (
	"context"
	"log"
	"time"
)

// Sweep plans and executes payment batches on a daily schedule.
type Sweep struct {
	orchestrator *Orchestrator
	tenantID     string
	dailyAt      string
	logger       *log.Logger
}

// NewSweep constructs the daily payment sweep.
func NewSweep(orchestrator *Orchestrator, tenantID, dailyAt string, logger *log.Logger) *Sweep {
	return &Sweep{
		orchestrator: orchestrator,
		tenantID:     tenantID,
		dailyAt:      dailyAt,
		logger:       logger,
	}
}

// Start begins the sweep loop.
func (s *Sweep) Start(ctx context.Context) {
	if s == nil || s.orchestrator == nil {
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
			s.RunOnce(ctx)
		}
	}
}

// RunOnce plans batches for the tenant and executes each, isolating
// per-batch failures.
func (s *Sweep) RunOnce(ctx context.Context) (executed, failed int) {
	plan, err := s.orchestrator.PlanBatches(ctx, s.tenantID, false)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("payment sweep: plan: %v", err)
		}
		return 0, 0
	}
	for _, skipped := range plan.Skipped {
		if s.logger != nil {
			s.logger.Printf("payment sweep: skipped settlement=%s: %s", skipped.SettlementID, skipped.Reason)
		}
	}

	for _, b := range plan.Batches {
		result, err := s.orchestrator.ExecuteBatch(ctx, b.ID, "payment-sweep")
		if err != nil {
			failed++
			if s.logger != nil {
				s.logger.Printf("payment sweep: batch=%s: %v", b.BatchNumber, err)
			}
			continue
		}
		executed++
		if s.logger != nil && result.Failed > 0 {
			s.logger.Printf("payment sweep: batch=%s finished %s paid=%d failed=%d",
				b.BatchNumber, result.Status, result.Successful, result.Failed)
		}
	}
	return executed, failed
}

func (s *Sweep) shouldRun(now time.Time) bool {
	t, err := time.Parse("15:04", s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == t.Hour() && now.Minute() == t.Minute()
}
