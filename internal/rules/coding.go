package rules

import (
	"fmt"
	"regexp"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// icd10Pattern is a letter, two digits, an optional decimal point and up to
// four more digits.
var icd10Pattern = regexp.MustCompile(`^[A-Z]\d{2}\.?\d{0,4}$`)

// ICD10FormatRule validates diagnosis code shape.
type ICD10FormatRule struct{ base }

// NewICD10FormatRule creates the ICD-10 format check.
func NewICD10FormatRule() *ICD10FormatRule {
	return &ICD10FormatRule{base{
		id:       "ICD10_FORMAT_VALIDATION",
		name:     "ICD-10 Format Validation",
		priority: 10,
	}}
}

// Evaluate implements Rule.
func (r *ICD10FormatRule) Evaluate(bill *domain.Bill, _ *domain.EvalContext) (domain.RuleResult, error) {
	if !bill.Has(domain.FieldDiagnosisCode) {
		return r.skip("No diagnosis code to validate"), nil
	}

	valid := icd10Pattern.MatchString(bill.DiagnosisCode)
	state := "invalid"
	if valid {
		state = "valid"
	}

	res := r.result(valid, "Diagnosis code format "+state, 1.0, map[string]any{
		"code":    bill.DiagnosisCode,
		"pattern": icd10Pattern.String(),
	})
	res.ContextUpdates = map[string]any{"diagnosis_code_valid": valid}
	return res, nil
}

// CPTValidityRule checks the procedure code against the billing-code catalog.
type CPTValidityRule struct{ base }

// NewCPTValidityRule creates the CPT catalog check.
func NewCPTValidityRule() *CPTValidityRule {
	return &CPTValidityRule{base{
		id:       "CPT_CODE_VALIDATION",
		name:     "CPT Code Validation",
		priority: 10,
		required: []domain.BillField{domain.FieldProcedureCode},
	}}
}

// Evaluate implements Rule.
func (r *CPTValidityRule) Evaluate(bill *domain.Bill, ec *domain.EvalContext) (domain.RuleResult, error) {
	if res, skipped := r.guard(bill); skipped {
		return res, nil
	}
	if ec == nil || len(ec.BillingCodes) == 0 {
		return r.skip("Billing codes not loaded for validation"), nil
	}

	info, found := ec.BillingCodes[bill.ProcedureCode]
	valid := found && info.Active()

	details := map[string]any{"code": bill.ProcedureCode}
	if found {
		details["code_info"] = map[string]any{
			"code_type":   string(info.CodeType),
			"description": info.Description,
			"status":      info.Status,
		}
	}

	msg := "Procedure code invalid or inactive"
	if valid {
		msg = "Procedure code valid and active"
	}
	res := r.result(valid, msg, 1.0, details)
	res.ContextUpdates = map[string]any{"procedure_code_active": valid}
	return res, nil
}

// validDxPairs is an illustrative CPT to ICD-10 compatibility table.
var validDxPairs = map[string][]string{
	"99214": {"I10", "I11", "E11.9", "J45.909"},
	"99213": {"I10", "I11", "M54.5"},
	"99212": {"I10", "J45.901", "M54.2"},
	"99203": {"I10", "M25.1", "J01.901"},
}

// DxPairRule checks the procedure against its compatible diagnoses.
// It is a soft medical-necessity signal.
type DxPairRule struct {
	base
	pairs map[string][]string
}

// NewDxPairRule creates the CPT-ICD pairing check.
func NewDxPairRule() *DxPairRule {
	return &DxPairRule{
		base: base{
			id:       "DX_PAIR_VALIDATION",
			name:     "CPT-ICD Pairing Validation",
			priority: 20,
			required: []domain.BillField{domain.FieldProcedureCode, domain.FieldDiagnosisCode},
		},
		pairs: validDxPairs,
	}
}

// Evaluate implements Rule.
func (r *DxPairRule) Evaluate(bill *domain.Bill, _ *domain.EvalContext) (domain.RuleResult, error) {
	if res, skipped := r.guard(bill); skipped {
		return res, nil
	}

	allowed := r.pairs[bill.ProcedureCode]
	valid := false
	for _, dx := range allowed {
		if dx == bill.DiagnosisCode {
			valid = true
			break
		}
	}

	state := "invalid"
	if valid {
		state = "valid"
	}
	return r.result(valid, fmt.Sprintf("CPT-ICD pairing %s", state), 0.5, map[string]any{
		"procedure_code":  bill.ProcedureCode,
		"diagnosis_code":  bill.DiagnosisCode,
		"valid_diagnoses": allowed,
	}), nil
}
