package payment

import "github.com/shopspring/decimal"

// Rule is one payment automation rule. Rules are evaluated in priority
// order, lowest first.
type Rule struct {
	Name     string
	Priority int

	MinAmount            decimal.Decimal
	MaxAmount            decimal.Decimal
	AllowedStatuses      []string
	MinDaysSinceApproval int
	AllowedRatings       []string

	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal

	PaymentMethod string
	MaxBatchSize  int
}

// AllowsStatus reports whether a settlement status is eligible.
func (r Rule) AllowsStatus(status string) bool {
	for _, allowed := range r.AllowedStatuses {
		if allowed == status {
			return true
		}
	}
	return false
}

// AllowsRating reports whether a credit rating is eligible.
func (r Rule) AllowsRating(rating string) bool {
	if len(r.AllowedRatings) == 0 {
		return true
	}
	for _, allowed := range r.AllowedRatings {
		if allowed == rating {
			return true
		}
	}
	return false
}
