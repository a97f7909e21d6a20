package rules

import (
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// DefaultExpressionPriority places configurable rules after the built-in
// families.
const DefaultExpressionPriority = 60

// Compiler builds ExpressionRules from stored rule configs.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates the CEL environment expression rules run in.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("bill", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("billed_amount", cel.DoubleType),
		cel.Variable("allowed_amount", cel.DoubleType),
		cel.Variable("procedure_code", cel.StringType),
		cel.Variable("diagnosis_code", cel.StringType),
		cel.Variable("provider_id", cel.StringType),
		cel.Variable("patient_id", cel.StringType),
		cel.Variable("documentation_length", cel.IntType),
		cel.Variable("history_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Validate compiles a config without keeping the program.
func (c *Compiler) Validate(cfg *domain.RuleConfig) error {
	_, err := c.Compile(cfg)
	return err
}

// Compile turns a config into an executable rule.
func (c *Compiler) Compile(cfg *domain.RuleConfig) (*ExpressionRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return nil, fmt.Errorf("rule %s: expression is required", cfg.ID)
	}
	for i, b := range cfg.Bands {
		switch b.Outcome {
		case domain.RuleOutcomePass, domain.RuleOutcomeFail, domain.RuleOutcomeSkip:
		default:
			return nil, fmt.Errorf("rule %s: band %d has unknown outcome %q", cfg.ID, i, b.Outcome)
		}
	}

	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	priority := cfg.Priority
	if priority <= 0 {
		priority = DefaultExpressionPriority
	}
	weight := cfg.Weight
	if weight <= 0 {
		weight = 1.0
	}
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}

	return &ExpressionRule{
		base: base{
			id:       cfg.ID,
			name:     name,
			priority: priority,
			critical: cfg.Critical,
			fatal:    cfg.Fatal,
		},
		config:  cfg,
		weight:  weight,
		program: program,
	}, nil
}

// CompileAll compiles the enabled configs. The first failure aborts.
func (c *Compiler) CompileAll(configs []*domain.RuleConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(configs))
	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		r, err := c.Compile(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ExpressionRule is a rule defined by a CEL expression and outcome bands.
// The expression yields a score; the first matching band decides the outcome.
type ExpressionRule struct {
	base
	config  *domain.RuleConfig
	weight  float64
	program cel.Program
}

// IsExpression reports whether r is a configurable expression rule.
func IsExpression(r Rule) bool {
	_, ok := r.(*ExpressionRule)
	return ok
}

// Config returns the source configuration.
func (r *ExpressionRule) Config() *domain.RuleConfig { return r.config }

// Evaluate implements Rule. CEL evaluation errors are returned as faults.
func (r *ExpressionRule) Evaluate(bill *domain.Bill, ec *domain.EvalContext) (domain.RuleResult, error) {
	out, _, err := r.program.Eval(activation(bill, ec))
	if err != nil {
		return domain.RuleResult{}, fmt.Errorf("evaluation error: %w", err)
	}

	score := toScore(out)
	outcome, reason := matchBand(score, r.config.Bands)
	if reason == "" {
		reason = fmt.Sprintf("%s scored %.4f", r.id, score)
	}
	details := map[string]any{
		"expression": r.config.Expression,
		"score":      score,
		"outcome":    outcome,
	}

	var res domain.RuleResult
	switch outcome {
	case domain.RuleOutcomeSkip:
		res = Skipped(r.id, r.name, reason, details)
		res.Weight = r.weight
		return res, nil
	case domain.RuleOutcomeFail:
		res = withScore(r.fail(reason, r.weight, details), clamp01(score))
		res.IsFatal = r.fatal
	default:
		res = r.pass(reason, r.weight, details)
		res.IsCritical = r.critical
	}
	res.ContextUpdates = map[string]any{strings.ToLower(r.id) + "_score": score}
	return res, nil
}

func activation(bill *domain.Bill, ec *domain.EvalContext) map[string]any {
	fields := map[string]any{
		"claim_id":       bill.ClaimID,
		"patient_id":     bill.PatientID,
		"provider_id":    bill.ProviderID,
		"provider_npi":   bill.ProviderNPI,
		"insurer_id":     bill.InsurerID,
		"hospital_id":    bill.HospitalID,
		"procedure_code": bill.ProcedureCode,
		"diagnosis_code": bill.DiagnosisCode,
		"status":         string(bill.Status),
	}
	if bill.BilledAmount != nil {
		fields["billed_amount"] = *bill.BilledAmount
	}
	if bill.AllowedAmount != nil {
		fields["allowed_amount"] = *bill.AllowedAmount
	}
	if bill.PaidAmount != nil {
		fields["paid_amount"] = *bill.PaidAmount
	}
	if bill.MedicalNecessityScore != nil {
		fields["medical_necessity_score"] = *bill.MedicalNecessityScore
	}
	if !bill.BillDate.IsZero() {
		fields["bill_date"] = bill.BillDate
	}

	values := map[string]any{}
	var history int64
	if ec != nil {
		maps.Copy(values, ec.Values)
		history = int64(len(ec.HistoricalBills))
	}

	return map[string]any{
		"bill":                 fields,
		"context":              values,
		"billed_amount":        deref(bill.BilledAmount),
		"allowed_amount":       deref(bill.AllowedAmount),
		"procedure_code":       bill.ProcedureCode,
		"diagnosis_code":       bill.DiagnosisCode,
		"provider_id":          bill.ProviderID,
		"patient_id":           bill.PatientID,
		"documentation_length": int64(len(strings.TrimSpace(bill.DocumentationText))),
		"history_count":        history,
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		if math.IsNaN(float64(v)) {
			return 0.0
		}
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the band for a score. Lower bounds are inclusive and upper
// bounds exclusive; a nil upper bound is unbounded. Without a matching band a
// score above zero fails and zero passes.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.LowerLimit != nil && score < *band.LowerLimit {
			continue
		}
		if band.UpperLimit != nil && score >= *band.UpperLimit {
			continue
		}
		return band.Outcome, band.Reason
	}
	if score > 0 {
		return domain.RuleOutcomeFail, ""
	}
	return domain.RuleOutcomePass, ""
}
