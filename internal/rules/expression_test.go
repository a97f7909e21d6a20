package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/medaudit/internal/domain"
)

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}
	return c
}

func TestCompileInvalidExpression(t *testing.T) {
	c := newCompiler(t)

	tests := []struct {
		name string
		cfg  *domain.RuleConfig
	}{
		{"nil config", nil},
		{"missing id", &domain.RuleConfig{Expression: "true"}},
		{"empty expression", &domain.RuleConfig{ID: "r1"}},
		{"syntax error", &domain.RuleConfig{ID: "r1", Expression: "this is not valid CEL !!!"}},
		{"string output", &domain.RuleConfig{ID: "r1", Expression: "procedure_code"}},
		{"unknown outcome", &domain.RuleConfig{ID: "r1", Expression: "true", Bands: []domain.RuleBand{{Outcome: ".maybe"}}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.Validate(tc.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpressionDefaults(t *testing.T) {
	c := newCompiler(t)

	r, err := c.Compile(&domain.RuleConfig{ID: "HIGH_BILL", Expression: "billed_amount > 1000.0"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if r.Priority() != DefaultExpressionPriority {
		t.Errorf("expected priority %d, got %d", DefaultExpressionPriority, r.Priority())
	}
	if r.Name() != "HIGH_BILL" {
		t.Errorf("expected name to default to id, got %q", r.Name())
	}

	bill := validBill()
	res, err := r.Evaluate(bill, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Succeeded() {
		t.Errorf("expected pass for small bill, got %s", res.Outcome())
	}

	bill.BilledAmount = domain.Float(2500)
	res, _ = r.Evaluate(bill, nil)
	if !res.Failed() {
		t.Fatalf("expected failure for large bill, got %s", res.Outcome())
	}
	if res.Score == nil || *res.Score != 1.0 || res.Weight != 1.0 {
		t.Errorf("expected score 1 weight 1, got %v / %.2f", res.Score, res.Weight)
	}
	if res.ContextUpdates["high_bill_score"] != 1.0 {
		t.Errorf("expected context update, got %v", res.ContextUpdates)
	}
}

func TestExpressionBands(t *testing.T) {
	c := newCompiler(t)
	zero, half, one := 0.0, 0.5, 1.0

	r, err := c.Compile(&domain.RuleConfig{
		ID:         "OVERAGE_RATIO",
		Expression: "allowed_amount > 0.0 ? (billed_amount - allowed_amount) / allowed_amount : -1.0",
		Bands: []domain.RuleBand{
			{UpperLimit: &zero, Outcome: domain.RuleOutcomeSkip, Reason: "No allowed amount"},
			{LowerLimit: &zero, UpperLimit: &half, Outcome: domain.RuleOutcomePass, Reason: "Overage acceptable"},
			{LowerLimit: &half, UpperLimit: &one, Outcome: domain.RuleOutcomeFail, Reason: "Overage high"},
			{LowerLimit: &one, Outcome: domain.RuleOutcomeFail, Reason: "Overage extreme"},
		},
		Weight:   0.4,
		Priority: 70,
		Fatal:    true,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	tests := []struct {
		name    string
		billed  float64
		allowed float64
		outcome string
		reason  string
	}{
		{"no allowed", 100, 0, "skipped", "No allowed amount"},
		{"acceptable", 120, 100, "passed", "Overage acceptable"},
		{"lower bound inclusive", 150, 100, "failed", "Overage high"},
		{"extreme", 300, 100, "failed", "Overage extreme"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bill := validBill()
			bill.BilledAmount = domain.Float(tc.billed)
			bill.AllowedAmount = domain.Float(tc.allowed)

			res, err := r.Evaluate(bill, nil)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.Outcome() != tc.outcome {
				t.Fatalf("expected %s, got %s", tc.outcome, res.Outcome())
			}
			if res.Message != tc.reason {
				t.Errorf("expected reason %q, got %q", tc.reason, res.Message)
			}
			if res.Failed() && (!res.IsFatal || res.Weight != 0.4) {
				t.Errorf("expected fatal failure with weight 0.4, got fatal=%v weight=%.2f", res.IsFatal, res.Weight)
			}
		})
	}
}

func TestExpressionReadsContext(t *testing.T) {
	c := newCompiler(t)
	r, err := c.Compile(&domain.RuleConfig{
		ID:         "INACTIVE_CODE_HIGH_BILL",
		Expression: `"procedure_code_active" in context && context.procedure_code_active == false && billed_amount > 100.0`,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ec := domain.NewEvalContext()
	res, _ := r.Evaluate(validBill(), ec)
	if !res.Succeeded() {
		t.Errorf("expected pass without derived context, got %s", res.Outcome())
	}

	ec.Merge(map[string]any{"procedure_code_active": false})
	res, _ = r.Evaluate(validBill(), ec)
	if !res.Failed() {
		t.Errorf("expected failure with inactive code, got %s", res.Outcome())
	}
}

func TestExpressionRuntimeErrorIsFault(t *testing.T) {
	c := newCompiler(t)
	r, err := c.Compile(&domain.RuleConfig{ID: "MISSING_KEY", Expression: "context.absent == true", Enabled: true})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if _, err := r.Evaluate(validBill(), domain.NewEvalContext()); err == nil {
		t.Fatal("expected evaluation error for missing context key")
	}

	res := NewChain(r).Execute(context.Background(), validBill(), nil)
	if len(res.Results) != 1 || !res.Results[0].Skipped {
		t.Fatalf("expected a skipped fault result, got %+v", res.Results)
	}
}

func TestCompileAllSkipsDisabled(t *testing.T) {
	c := newCompiler(t)
	rules, err := c.CompileAll([]*domain.RuleConfig{
		{ID: "on", Expression: "true", Enabled: true},
		{ID: "off", Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("compile all: %v", err)
	}
	if len(rules) != 1 || rules[0].ID() != "on" {
		t.Errorf("expected only the enabled rule, got %d", len(rules))
	}
	if !IsExpression(rules[0]) || IsExpression(NewAmountLimitRule()) {
		t.Error("IsExpression misclassified a rule")
	}
}
