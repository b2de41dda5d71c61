package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	payment "dealerpay/internal/payment/domain"
	settlement "dealerpay/internal/settlement/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type staticRatings struct {
	byStation map[string]string
}

func (r staticRatings) CreditRating(_ context.Context, stationID string) (string, error) {
	if rating, ok := r.byStation[stationID]; ok {
		return rating, nil
	}
	return "GOOD", nil
}

type staticTotals struct {
	daily   decimal.Decimal
	monthly decimal.Decimal
}

func (t staticTotals) DailyTotal(context.Context, string, time.Time) (decimal.Decimal, error) {
	return t.daily, nil
}

func (t staticTotals) MonthlyTotal(context.Context, string, time.Time) (decimal.Decimal, error) {
	return t.monthly, nil
}

type staticDuplicates struct {
	pending bool
}

func (d staticDuplicates) HasPendingPayment(context.Context, string) (bool, error) {
	return d.pending, nil
}

type staticFraud struct {
	suspicious bool
	why        string
}

func (f staticFraud) Suspicious(context.Context, *settlement.DealerSettlement) (bool, string, error) {
	return f.suspicious, f.why, nil
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func approvedSettlement(t *testing.T, net string, approvedAt time.Time) *settlement.DealerSettlement {
	t.Helper()
	return &settlement.DealerSettlement{
		ID:         "SET-1",
		TenantID:   "tenant-1",
		StationID:  "ST-001",
		Status:     settlement.StatusApproved,
		NetPayable: dec(t, net),
		ApprovedAt: approvedAt,
	}
}

func defaultRules(t *testing.T) []payment.Rule {
	t.Helper()
	rules, err := Config{Rules: []RuleConfig{DefaultRuleConfig()}}.BuildRules()
	if err != nil {
		t.Fatalf("build rules: %v", err)
	}
	return rules
}

func newTestEngine(t *testing.T, rules []payment.Rule, totals staticTotals, opts ...func(*engineDeps)) *Engine {
	t.Helper()
	deps := &engineDeps{
		ratings: staticRatings{byStation: map[string]string{"ST-001": "EXCELLENT"}},
	}
	for _, opt := range opts {
		opt(deps)
	}
	engine, err := NewEngine(rules, deps.ratings, totals, deps.duplicates, deps.fraud, fixedClock{now: testNow()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

type engineDeps struct {
	ratings    RatingProvider
	duplicates DuplicateChecker
	fraud      FraudChecker
}

func testNow() time.Time {
	return time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
}

func TestEngine_ApprovesUnderStandardRule(t *testing.T) {
	engine := newTestEngine(t, defaultRules(t), staticTotals{})
	s := approvedSettlement(t, "575", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Processable {
		t.Fatalf("expected processable, got rejection %s: %s", decision.ReasonCode, decision.Reason)
	}
	if decision.RuleName != "standard-payout" {
		t.Fatalf("rule name = %q", decision.RuleName)
	}
	if decision.Method != "bank_transfer" {
		t.Fatalf("method = %q", decision.Method)
	}
	if decision.MaxBatchSize != 50 {
		t.Fatalf("max batch size = %d", decision.MaxBatchSize)
	}
}

func TestEngine_DailyLimitRejectionCarriesReason(t *testing.T) {
	totals := staticTotals{daily: dec(t, "999950")}
	engine := newTestEngine(t, defaultRules(t), totals)
	s := approvedSettlement(t, "100", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Processable {
		t.Fatal("expected rejection")
	}
	if decision.ReasonCode != ReasonDailyLimit {
		t.Fatalf("reason code = %q", decision.ReasonCode)
	}
	if !strings.Contains(decision.Reason, "1000000") || !strings.Contains(decision.Reason, "999950") {
		t.Fatalf("reason should name the limit and current total, got %q", decision.Reason)
	}
}

func TestEngine_MonthlyLimitRejection(t *testing.T) {
	totals := staticTotals{monthly: dec(t, "9999990")}
	engine := newTestEngine(t, defaultRules(t), totals)
	s := approvedSettlement(t, "500", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Processable || decision.ReasonCode != ReasonMonthlyLimit {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestEngine_RiskFailureFallsThroughToLowerPriorityRule(t *testing.T) {
	cfg := Config{Rules: []RuleConfig{
		{Name: "tight-cap", Priority: 10, DailyLimit: "100"},
		{Name: "fallback", Priority: 200, DailyLimit: "1000000"},
	}}
	rules, err := cfg.BuildRules()
	if err != nil {
		t.Fatalf("build rules: %v", err)
	}
	engine := newTestEngine(t, rules, staticTotals{})
	s := approvedSettlement(t, "575", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Processable {
		t.Fatalf("expected fallback rule to pass, got %s: %s", decision.ReasonCode, decision.Reason)
	}
	if decision.RuleName != "fallback" {
		t.Fatalf("rule name = %q", decision.RuleName)
	}
}

func TestEngine_PoorRatingHasNoRule(t *testing.T) {
	engine := newTestEngine(t, defaultRules(t), staticTotals{}, func(d *engineDeps) {
		d.ratings = staticRatings{byStation: map[string]string{"ST-001": "POOR"}}
	})
	s := approvedSettlement(t, "575", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Processable || decision.ReasonCode != ReasonNoRule {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestEngine_RecentApprovalNotYetEligible(t *testing.T) {
	engine := newTestEngine(t, defaultRules(t), staticTotals{})
	s := approvedSettlement(t, "575", testNow().AddDate(0, 0, -1))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Processable || decision.ReasonCode != ReasonNoRule {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestEngine_DuplicatePaymentRejected(t *testing.T) {
	engine := newTestEngine(t, defaultRules(t), staticTotals{}, func(d *engineDeps) {
		d.duplicates = staticDuplicates{pending: true}
	})
	s := approvedSettlement(t, "575", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Processable || decision.ReasonCode != ReasonDuplicate {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestEngine_FraudFlagRejected(t *testing.T) {
	engine := newTestEngine(t, defaultRules(t), staticTotals{}, func(d *engineDeps) {
		d.fraud = staticFraud{suspicious: true, why: "round amount spike"}
	})
	s := approvedSettlement(t, "575", testNow().AddDate(0, 0, -5))

	decision, err := engine.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Processable || decision.ReasonCode != ReasonFraud {
		t.Fatalf("decision = %+v", decision)
	}
	if !strings.Contains(decision.Reason, "round amount spike") {
		t.Fatalf("reason = %q", decision.Reason)
	}
}

func TestConfig_BuildRulesMergesDefaultAndSortsByPriority(t *testing.T) {
	cfg := Config{Rules: []RuleConfig{
		{Name: "large-payouts", Priority: 200, MinAmount: "50000", MaxAmount: "250000"},
		{Name: "fast-lane", Priority: 10, MinDaysSinceApproval: 1},
	}}

	rules, err := cfg.BuildRules()
	if err != nil {
		t.Fatalf("build rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d", len(rules))
	}
	if rules[0].Name != "fast-lane" || rules[1].Name != "large-payouts" {
		t.Fatalf("order = %s, %s", rules[0].Name, rules[1].Name)
	}
	if rules[0].MinDaysSinceApproval != 1 {
		t.Fatalf("fast-lane min days = %d", rules[0].MinDaysSinceApproval)
	}
	// gaps filled from the default rule
	if rules[0].PaymentMethod != "bank_transfer" {
		t.Fatalf("fast-lane method = %q", rules[0].PaymentMethod)
	}
	if !rules[1].MaxAmount.Equal(dec(t, "250000")) {
		t.Fatalf("large-payouts max amount = %s", rules[1].MaxAmount)
	}
	if !rules[1].DailyLimit.Equal(dec(t, "1000000")) {
		t.Fatalf("large-payouts daily limit = %s", rules[1].DailyLimit)
	}
}

func TestConfig_BuildRulesRejectsBadDecimal(t *testing.T) {
	cfg := Config{Rules: []RuleConfig{{Name: "broken", MinAmount: "not-a-number"}}}
	if _, err := cfg.BuildRules(); err == nil {
		t.Fatal("expected parse error")
	}
}
