package domain

import "maps"

// RuleConfig defines a configurable CEL expression rule.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over bill fields and the running context
	Expression string `json:"expression"`

	// Outcome bands for score-to-outcome mapping
	Bands []RuleBand `json:"bands"`

	// Execution order; configurable rules live in the 51-100 range
	Priority int `json:"priority"`

	// Contribution to fraud/compliance aggregation when the rule fails
	Weight float64 `json:"weight"`

	Critical bool `json:"critical"`
	Fatal    bool `json:"fatal"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // ".pass", ".fail", ".skip"
	Reason     string   `json:"reason"`
}

// Predefined band outcomes
const (
	RuleOutcomePass = ".pass"
	RuleOutcomeFail = ".fail"
	RuleOutcomeSkip = ".skip"
)

// RuleResult is the output of one rule evaluation.
// Skipped implies Passed is nil; Score is meaningful only when Passed is false.
type RuleResult struct {
	RuleID         string         `json:"ruleId"`
	RuleName       string         `json:"ruleName"`
	Passed         *bool          `json:"passed"`
	Skipped        bool           `json:"skipped"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	ExecutionMs    float64        `json:"executionMs"`
	IsCritical     bool           `json:"isCritical"`
	IsFatal        bool           `json:"isFatal"`
	Weight         float64        `json:"weight"`
	Score          *float64       `json:"score,omitempty"`
	ContextUpdates map[string]any `json:"contextUpdates,omitempty"`
}

// Succeeded reports a definite pass.
func (r RuleResult) Succeeded() bool {
	return r.Passed != nil && *r.Passed
}

// Failed reports a definite failure. Skipped results are neither.
func (r RuleResult) Failed() bool {
	return r.Passed != nil && !*r.Passed
}

// Outcome is "passed", "failed" or "skipped".
func (r RuleResult) Outcome() string {
	switch {
	case r.Succeeded():
		return "passed"
	case r.Failed():
		return "failed"
	default:
		return "skipped"
	}
}

// Decision is the final verdict of a chain run.
type Decision string

const (
	DecisionApproved       Decision = "APPROVED"
	DecisionRejected       Decision = "REJECTED"
	DecisionReviewRequired Decision = "REVIEW_REQUIRED"
	DecisionPending        Decision = "PENDING"
)

// ChainResult aggregates one rule-chain run over one bill.
type ChainResult struct {
	ClaimID         string       `json:"claimId"`
	Results         []RuleResult `json:"results"`
	FinalDecision   Decision     `json:"finalDecision"`
	FraudScore      float64      `json:"fraudScore"`
	ComplianceScore float64      `json:"complianceScore"`
	ExecutionMs     float64      `json:"executionMs"`
	Issues          []string     `json:"issues"`
	Warnings        []string     `json:"warnings"`
}

// Well-known context keys.
const (
	ContextBillingCodes    = "billing_codes"
	ContextHistoricalBills = "historical_bills"
	ContextProviderNetwork = "provider_network"
	ContextRegulations     = "applicable_regulations"
)

// EvalContext is the enriched context a chain run reads.
// Values accumulates context updates emitted by earlier rules.
type EvalContext struct {
	BillingCodes    map[string]BillingCode `json:"billingCodes,omitempty"`
	HistoricalBills []*Bill                `json:"-"`
	ProviderNetwork *ProviderNetwork       `json:"providerNetwork,omitempty"`
	Regulations     []Regulation           `json:"applicableRegulations,omitempty"`
	Values          map[string]any         `json:"values,omitempty"`
}

// NewEvalContext returns an empty context ready for merging.
func NewEvalContext() *EvalContext {
	return &EvalContext{Values: make(map[string]any)}
}

// Merge copies updates into Values. Later keys win.
func (c *EvalContext) Merge(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if c.Values == nil {
		c.Values = make(map[string]any, len(updates))
	}
	maps.Copy(c.Values, updates)
}

// Clone returns a copy whose Values can be mutated independently.
func (c *EvalContext) Clone() *EvalContext {
	if c == nil {
		return NewEvalContext()
	}
	out := *c
	out.Values = make(map[string]any, len(c.Values))
	maps.Copy(out.Values, c.Values)
	return &out
}
