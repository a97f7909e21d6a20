package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// minDocumentationLength is the shortest trimmed note accepted as complete.
const minDocumentationLength = 50

// DocumentationRule fails bills without usable clinical documentation.
type DocumentationRule struct{ base }

// NewDocumentationRule creates the documentation completeness check.
func NewDocumentationRule() *DocumentationRule {
	return &DocumentationRule{base{
		id:       "DOCUMENTATION_COMPLETENESS",
		name:     "Documentation Completeness Check",
		priority: 15,
	}}
}

// Evaluate implements Rule.
func (r *DocumentationRule) Evaluate(bill *domain.Bill, _ *domain.EvalContext) (domain.RuleResult, error) {
	if !bill.Has(domain.FieldDocumentationText) {
		return r.fail("Clinical documentation is missing", 1.0, map[string]any{
			"documentation_length": 0,
		}), nil
	}

	length := len(strings.TrimSpace(bill.DocumentationText))
	details := map[string]any{"documentation_length": length}
	if length < minDocumentationLength {
		return r.fail(fmt.Sprintf("Clinical documentation is too brief (<%d characters)", minDocumentationLength), 1.0, details), nil
	}
	return r.pass("Clinical documentation is present", 0.5, details), nil
}

// necessityThreshold is the minimum medical-necessity score that passes.
const necessityThreshold = 0.7

// defaultNecessity applies to procedures missing from the table.
const defaultNecessity = 0.5

var necessityByProcedure = map[string]float64{
	"99214": 0.9,
	"99213": 0.8,
	"99212": 0.8,
	"99203": 0.7,
}

// MedicalNecessityRule scores how well the procedure is justified.
// A precomputed score on the bill takes precedence over the table.
type MedicalNecessityRule struct {
	base
	table map[string]float64
}

// NewMedicalNecessityRule creates the medical necessity score check.
func NewMedicalNecessityRule() *MedicalNecessityRule {
	return &MedicalNecessityRule{
		base: base{
			id:       "MEDICAL_NECESSITY_SCORE",
			name:     "Medical Necessity Score",
			priority: 25,
			required: []domain.BillField{domain.FieldProcedureCode, domain.FieldDiagnosisCode},
		},
		table: necessityByProcedure,
	}
}

// Evaluate implements Rule.
func (r *MedicalNecessityRule) Evaluate(bill *domain.Bill, _ *domain.EvalContext) (domain.RuleResult, error) {
	if res, skipped := r.guard(bill); skipped {
		return res, nil
	}

	necessity, source := defaultNecessity, "default"
	if bill.MedicalNecessityScore != nil {
		necessity, source = *bill.MedicalNecessityScore, "precomputed"
	} else if v, ok := r.table[bill.ProcedureCode]; ok {
		necessity, source = v, "procedure_table"
	}

	passed := necessity >= necessityThreshold
	res := r.result(passed, fmt.Sprintf("Medical necessity score: %.2f", necessity), 0.5, map[string]any{
		"medical_necessity_score": necessity,
		"source":                  source,
		"threshold":               necessityThreshold,
	})
	res.ContextUpdates = map[string]any{"medical_necessity_score": necessity}

	// Severity grows as necessity falls.
	return withScore(res, clamp01(1-necessity)), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
