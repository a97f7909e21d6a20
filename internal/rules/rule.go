// Package rules provides the bill validation rules and the priority-ordered
// rule chain that executes them.
package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Rule is a single, independently testable validation unit.
//
// Evaluate must not return an error for business outcomes. Missing inputs
// produce a skipped result; a returned error means the rule itself broke.
type Rule interface {
	ID() string
	Name() string
	Priority() int
	IsCritical() bool
	IsFatal() bool
	Evaluate(bill *domain.Bill, ec *domain.EvalContext) (domain.RuleResult, error)
}

// base carries rule metadata and the result constructors shared by the
// built-in families.
type base struct {
	id       string
	name     string
	priority int
	critical bool
	fatal    bool
	required []domain.BillField
}

func (b base) ID() string       { return b.id }
func (b base) Name() string     { return b.name }
func (b base) Priority() int    { return b.priority }
func (b base) IsCritical() bool { return b.critical }
func (b base) IsFatal() bool    { return b.fatal }

// guard returns a skipped result when the bill lacks a required field.
func (b base) guard(bill *domain.Bill) (domain.RuleResult, bool) {
	missing := bill.Missing(b.required...)
	if len(missing) == 0 {
		return domain.RuleResult{}, false
	}
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return b.skip(fmt.Sprintf("Missing required fields: [%s]", strings.Join(names, ", "))), true
}

func (b base) result(passed bool, msg string, weight float64, details map[string]any) domain.RuleResult {
	return domain.RuleResult{
		RuleID:   b.id,
		RuleName: b.name,
		Passed:   &passed,
		Message:  msg,
		Details:  details,
		Weight:   weight,
	}
}

func (b base) pass(msg string, weight float64, details map[string]any) domain.RuleResult {
	return b.result(true, msg, weight, details)
}

func (b base) fail(msg string, weight float64, details map[string]any) domain.RuleResult {
	return b.result(false, msg, weight, details)
}

func (b base) skip(msg string) domain.RuleResult {
	return Skipped(b.id, b.name, msg, nil)
}

// Skipped builds a result for a rule that could not evaluate.
func Skipped(id, name, msg string, details map[string]any) domain.RuleResult {
	return domain.RuleResult{
		RuleID:   id,
		RuleName: name,
		Skipped:  true,
		Message:  msg,
		Details:  details,
		Weight:   1.0,
	}
}

func withScore(r domain.RuleResult, score float64) domain.RuleResult {
	r.Score = &score
	return r
}
