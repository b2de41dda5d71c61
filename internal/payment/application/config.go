package application

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	payment "dealerpay/internal/payment/domain"
)

// RuleConfig defines one automation rule in yaml.
type RuleConfig struct {
	Name                 string   `yaml:"name"`
	Priority             int      `yaml:"priority"`
	MinAmount            string   `yaml:"min_amount"`
	MaxAmount            string   `yaml:"max_amount"`
	AllowedStatuses      []string `yaml:"allowed_statuses"`
	MinDaysSinceApproval int      `yaml:"min_days_since_approval"`
	AllowedRatings       []string `yaml:"allowed_ratings"`
	DailyLimit           string   `yaml:"daily_limit"`
	MonthlyLimit         string   `yaml:"monthly_limit"`
	PaymentMethod        string   `yaml:"payment_method"`
	MaxBatchSize         int      `yaml:"max_batch_size"`
}

// ScheduleConfig defines the payment sweep schedule.
type ScheduleConfig struct {
	DailyAt string `yaml:"daily_at"`
}

// Config defines payment automation configuration.
type Config struct {
	Rules    []RuleConfig      `yaml:"rules"`
	Schedule ScheduleConfig    `yaml:"schedule"`
	Currency string            `yaml:"currency"`
	Ratings  map[string]string `yaml:"ratings"`
	// DefaultRating applies to stations without an explicit entry.
	DefaultRating string `yaml:"default_rating"`
}

// DefaultRuleConfig is the built-in rule used when no yaml is supplied.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Name:                 "standard-payout",
		Priority:             100,
		MinAmount:            "100",
		MaxAmount:            "50000",
		AllowedStatuses:      []string{"Approved"},
		MinDaysSinceApproval: 3,
		AllowedRatings:       []string{"GOOD", "EXCELLENT"},
		DailyLimit:           "1000000",
		MonthlyLimit:         "10000000",
		PaymentMethod:        "bank_transfer",
		MaxBatchSize:         50,
	}
}

// LoadConfig loads payment config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Currency: getenvDefault("PAYMENT_CURRENCY", "GHS"),
	}

	if path := os.Getenv("PAYMENT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Rules) == 0 {
		cfg.Rules = []RuleConfig{DefaultRuleConfig()}
	}
	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = getenvDefault("PAYMENT_DAILY_AT", "06:00")
	}
	if cfg.Currency == "" {
		cfg.Currency = "GHS"
	}
	if cfg.DefaultRating == "" {
		cfg.DefaultRating = "GOOD"
	}
	return cfg, nil
}

// ConfiguredRatings builds a rating provider from the config's station
// rating map, falling back to the default rating.
func (c Config) ConfiguredRatings() ConfiguredRatings {
	fallback := c.DefaultRating
	if fallback == "" {
		fallback = "GOOD"
	}
	return ConfiguredRatings{byStation: c.Ratings, fallback: fallback}
}

// ConfiguredRatings serves credit ratings maintained in configuration.
type ConfiguredRatings struct {
	byStation map[string]string
	fallback  string
}

// CreditRating returns the configured rating for a station.
func (r ConfiguredRatings) CreditRating(_ context.Context, stationID string) (string, error) {
	if rating, ok := r.byStation[stationID]; ok {
		return rating, nil
	}
	return r.fallback, nil
}

// BuildRules parses the configured rules, fills gaps from the default
// rule and orders them by priority ascending.
func (c Config) BuildRules() ([]payment.Rule, error) {
	base := DefaultRuleConfig()
	out := make([]payment.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		merged := mergeRule(base, rc)
		rule, err := parseRule(merged)
		if err != nil {
			return nil, fmt.Errorf("payment rule %d (%s): %w", i, merged.Name, err)
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func mergeRule(base, override RuleConfig) RuleConfig {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Priority != 0 {
		base.Priority = override.Priority
	}
	if override.MinAmount != "" {
		base.MinAmount = override.MinAmount
	}
	if override.MaxAmount != "" {
		base.MaxAmount = override.MaxAmount
	}
	if len(override.AllowedStatuses) > 0 {
		base.AllowedStatuses = override.AllowedStatuses
	}
	if override.MinDaysSinceApproval != 0 {
		base.MinDaysSinceApproval = override.MinDaysSinceApproval
	}
	if len(override.AllowedRatings) > 0 {
		base.AllowedRatings = override.AllowedRatings
	}
	if override.DailyLimit != "" {
		base.DailyLimit = override.DailyLimit
	}
	if override.MonthlyLimit != "" {
		base.MonthlyLimit = override.MonthlyLimit
	}
	if override.PaymentMethod != "" {
		base.PaymentMethod = override.PaymentMethod
	}
	if override.MaxBatchSize != 0 {
		base.MaxBatchSize = override.MaxBatchSize
	}
	return base
}

func parseRule(rc RuleConfig) (payment.Rule, error) {
	rule := payment.Rule{
		Name:                 rc.Name,
		Priority:             rc.Priority,
		AllowedStatuses:      rc.AllowedStatuses,
		MinDaysSinceApproval: rc.MinDaysSinceApproval,
		AllowedRatings:       rc.AllowedRatings,
		PaymentMethod:        rc.PaymentMethod,
		MaxBatchSize:         rc.MaxBatchSize,
	}
	var err error
	if rule.MinAmount, err = decimal.NewFromString(rc.MinAmount); err != nil {
		return rule, fmt.Errorf("min_amount: %w", err)
	}
	if rule.MaxAmount, err = decimal.NewFromString(rc.MaxAmount); err != nil {
		return rule, fmt.Errorf("max_amount: %w", err)
	}
	if rule.DailyLimit, err = decimal.NewFromString(rc.DailyLimit); err != nil {
		return rule, fmt.Errorf("daily_limit: %w", err)
	}
	if rule.MonthlyLimit, err = decimal.NewFromString(rc.MonthlyLimit); err != nil {
		return rule, fmt.Errorf("monthly_limit: %w", err)
	}
	if rule.MaxBatchSize <= 0 {
		rule.MaxBatchSize = 50
	}
	return rule, nil
}

func getenvDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
