package domain

import (
	"time"
)

// EvaluationResult is a chain run plus the context it used. It is the unit
// stored and returned to API callers.
type EvaluationResult struct {
	ID              string           `json:"id"`
	ClaimID         string           `json:"claimId"`
	Chain           ChainResult      `json:"chainResult"`
	EnrichedContext *EvalContext     `json:"enrichedContext,omitempty"`
	Anomaly         *AnomalyResult   `json:"anomaly,omitempty"`
	Network         *NetworkAnalysis `json:"network,omitempty"`
	Legality        *LegalityReport  `json:"legality,omitempty"`
	Risk            *CompositeScore  `json:"risk,omitempty"`
	TraceID         string           `json:"traceId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// ComplianceStatus is the persisted status of one compliance check.
type ComplianceStatus string

const (
	CompliancePassed         ComplianceStatus = "passed"
	ComplianceFailed         ComplianceStatus = "failed"
	ComplianceWarning        ComplianceStatus = "warning"
	CompliancePending        ComplianceStatus = "pending"
	ComplianceReviewRequired ComplianceStatus = "review_required"
)

// ComplianceCheckActor is recorded as checked_by for rule-chain checks.
const ComplianceCheckActor = "rules_engine"

// ComplianceCheck is an auditable record of one rule result.
type ComplianceCheck struct {
	ID        string           `json:"id"`
	BillID    string           `json:"billId"`
	ClaimID   string           `json:"claimId"`
	RuleID    string           `json:"ruleId"`
	RuleName  string           `json:"ruleName"`
	Status    ComplianceStatus `json:"status"`
	Passed    bool             `json:"passed"`
	Message   string           `json:"message"`
	Details   map[string]any   `json:"details,omitempty"`
	CheckedAt time.Time        `json:"checkedAt"`
	CheckedBy string           `json:"checkedBy"`
}

// EngineStats counts evaluation activity.
type EngineStats struct {
	BillsEvaluated int64 `json:"billsEvaluated"`
	RulesExecuted  int64 `json:"rulesExecuted"`
	Errors         int64 `json:"errors"`
}
