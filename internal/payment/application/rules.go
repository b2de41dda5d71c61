package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dealerpay/internal/observability/metrics"
	payment "dealerpay/internal/payment/domain"
	settlement "dealerpay/internal/settlement/domain"
)

// RatingProvider supplies a dealer's credit rating.
type RatingProvider interface {
	CreditRating(ctx context.Context, stationID string) (string, error)
}

// TotalsSource supplies cumulative payout totals for risk limits.
type TotalsSource interface {
	DailyTotal(ctx context.Context, tenantID string, day time.Time) (decimal.Decimal, error)
	MonthlyTotal(ctx context.Context, tenantID string, month time.Time) (decimal.Decimal, error)
}

// DuplicateChecker reports whether a settlement already has a payment
// in flight.
type DuplicateChecker interface {
	HasPendingPayment(ctx context.Context, settlementID string) (bool, error)
}

// FraudChecker flags suspicious payouts.
type FraudChecker interface {
	Suspicious(ctx context.Context, s *settlement.DealerSettlement) (bool, string, error)
}

// Rejection reason codes.
const (
	ReasonNoRule       = "no_rule"
	ReasonDailyLimit   = "daily_limit"
	ReasonMonthlyLimit = "monthly_limit"
	ReasonDuplicate    = "duplicate"
	ReasonFraud        = "fraud"
)

// Decision is the rule engine verdict for one settlement.
type Decision struct {
	Processable  bool
	RuleName     string
	Method       string
	MaxBatchSize int
	ReasonCode   string
	Reason       string
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Engine evaluates settlements against the configured automation rules.
// The first rule whose eligibility matches runs the risk controls; a
// risk failure falls through to lower-priority rules.
type Engine struct {
	rules      []payment.Rule
	ratings    RatingProvider
	totals     TotalsSource
	duplicates DuplicateChecker
	fraud      FraudChecker
	clock      Clock
}

// NewEngine constructs the rule engine. Rules must already be ordered
// by priority.
func NewEngine(
	rules []payment.Rule,
	ratings RatingProvider,
	totals TotalsSource,
	duplicates DuplicateChecker,
	fraud FraudChecker,
	clock Clock,
) (*Engine, error) {
	if len(rules) == 0 {
		return nil, errors.New("payment engine: no rules")
	}
	if ratings == nil {
		return nil, errors.New("payment engine: nil rating provider")
	}
	if totals == nil {
		return nil, errors.New("payment engine: nil totals source")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		rules:      rules,
		ratings:    ratings,
		totals:     totals,
		duplicates: duplicates,
		fraud:      fraud,
		clock:      clock,
	}, nil
}

// Evaluate returns whether a settlement is processable and under which
// rule, or the last risk rejection encountered.
func (e *Engine) Evaluate(ctx context.Context, s *settlement.DealerSettlement) (Decision, error) {
	if s == nil {
		return Decision{}, settlement.ErrNilSettlement
	}
	now := e.clock.Now().UTC()

	rating, err := e.ratings.CreditRating(ctx, s.StationID)
	if err != nil {
		return Decision{}, err
	}

	rejected := Decision{
		ReasonCode: ReasonNoRule,
		Reason:     "no automation rule matched the settlement",
	}
	for _, rule := range e.rules {
		if !e.eligible(rule, s, rating, now) {
			continue
		}
		decision, err := e.riskControls(ctx, rule, s, now)
		if err != nil {
			return Decision{}, err
		}
		if decision.Processable {
			return decision, nil
		}
		rejected = decision
	}

	metrics.IncRuleRejection(rejected.ReasonCode)
	return rejected, nil
}

func (e *Engine) eligible(rule payment.Rule, s *settlement.DealerSettlement, rating string, now time.Time) bool {
	if s.NetPayable.LessThan(rule.MinAmount) || s.NetPayable.GreaterThan(rule.MaxAmount) {
		return false
	}
	if !rule.AllowsStatus(s.Status) {
		return false
	}
	if rule.MinDaysSinceApproval > 0 {
		if s.ApprovedAt.IsZero() {
			return false
		}
		days := int(now.Sub(s.ApprovedAt).Hours() / 24)
		if days < rule.MinDaysSinceApproval {
			return false
		}
	}
	return rule.AllowsRating(rating)
}

func (e *Engine) riskControls(ctx context.Context, rule payment.Rule, s *settlement.DealerSettlement, now time.Time) (Decision, error) {
	pass := Decision{
		Processable:  true,
		RuleName:     rule.Name,
		Method:       rule.PaymentMethod,
		MaxBatchSize: rule.MaxBatchSize,
	}

	daily, err := e.totals.DailyTotal(ctx, s.TenantID, now)
	if err != nil {
		return Decision{}, err
	}
	if daily.Add(s.NetPayable).GreaterThan(rule.DailyLimit) {
		return Decision{
			RuleName:   rule.Name,
			ReasonCode: ReasonDailyLimit,
			Reason:     fmt.Sprintf("daily payout limit %s would be exceeded (current %s, payment %s)", rule.DailyLimit, daily, s.NetPayable),
		}, nil
	}

	monthly, err := e.totals.MonthlyTotal(ctx, s.TenantID, now)
	if err != nil {
		return Decision{}, err
	}
	if monthly.Add(s.NetPayable).GreaterThan(rule.MonthlyLimit) {
		return Decision{
			RuleName:   rule.Name,
			ReasonCode: ReasonMonthlyLimit,
			Reason:     fmt.Sprintf("monthly payout limit %s would be exceeded (current %s, payment %s)", rule.MonthlyLimit, monthly, s.NetPayable),
		}, nil
	}

	if e.duplicates != nil {
		pending, err := e.duplicates.HasPendingPayment(ctx, s.ID)
		if err != nil {
			return Decision{}, err
		}
		if pending {
			return Decision{
				RuleName:   rule.Name,
				ReasonCode: ReasonDuplicate,
				Reason:     "a payment for this settlement is already in flight",
			}, nil
		}
	}

	if e.fraud != nil {
		suspicious, why, err := e.fraud.Suspicious(ctx, s)
		if err != nil {
			return Decision{}, err
		}
		if suspicious {
			return Decision{
				RuleName:   rule.Name,
				ReasonCode: ReasonFraud,
				Reason:     "flagged by fraud heuristics: " + why,
			}, nil
		}
	}
	return pass, nil
}
