package rules

import (
	"fmt"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// maxOverageRatio is the share of the allowed amount a bill may exceed it by.
const maxOverageRatio = 0.2

// AmountLimitRule fails bills billed well above the allowed amount.
type AmountLimitRule struct{ base }

// NewAmountLimitRule creates the billed-versus-allowed amount check.
func NewAmountLimitRule() *AmountLimitRule {
	return &AmountLimitRule{base{
		id:       "AMOUNT_LIMIT",
		name:     "Billed Amount Limit",
		priority: 35,
		required: []domain.BillField{domain.FieldBilledAmount, domain.FieldAllowedAmount},
	}}
}

// Evaluate implements Rule.
func (r *AmountLimitRule) Evaluate(bill *domain.Bill, _ *domain.EvalContext) (domain.RuleResult, error) {
	if res, skipped := r.guard(bill); skipped {
		return res, nil
	}

	billed, allowed := *bill.BilledAmount, *bill.AllowedAmount
	overage := billed - allowed
	threshold := maxOverageRatio * allowed

	details := map[string]any{
		"billed_amount":     billed,
		"allowed_amount":    allowed,
		"overage":           overage,
		"overage_threshold": threshold,
	}

	if overage <= threshold {
		res := r.pass(fmt.Sprintf("Billed amount %.2f vs allowed %.2f: within limit", billed, allowed), 1.0, details)
		return withScore(res, 0), nil
	}

	score := 1.0
	if threshold > 0 {
		score = clamp01(overage / threshold)
	}
	res := r.fail(fmt.Sprintf("Billed amount %.2f vs allowed %.2f: exceeds by $%.2f", billed, allowed, overage), 1.0, details)
	res.ContextUpdates = map[string]any{"amount_overage": overage}
	return withScore(res, score), nil
}
