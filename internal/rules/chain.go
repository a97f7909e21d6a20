package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Observer receives each rule result as the chain produces it.
type Observer func(rule Rule, result domain.RuleResult)

// Chain executes rules sequentially in ascending priority order.
// Rules with equal priority keep insertion order.
type Chain struct {
	mu       sync.RWMutex
	rules    []Rule
	observer Observer
}

// NewChain creates a chain with the given rules.
func NewChain(rules ...Rule) *Chain {
	c := &Chain{}
	for _, r := range rules {
		c.Add(r)
	}
	return c
}

// Add inserts a rule, keeping the chain sorted.
func (c *Chain) Add(r Rule) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, r)
	slices.SortStableFunc(c.rules, func(a, b Rule) int {
		return a.Priority() - b.Priority()
	})
}

// Replace removes every rule match selects and adds the supplied set.
// Used when expression rules are reloaded.
func (c *Chain) Replace(match func(Rule) bool, rules ...Rule) {
	c.mu.Lock()
	kept := c.rules[:0:0]
	for _, r := range c.rules {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	c.rules = kept
	c.mu.Unlock()

	for _, r := range rules {
		c.Add(r)
	}
}

// Rules returns the rules in execution order.
func (c *Chain) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.rules)
}

// Observe installs a per-result callback, used for metrics.
func (c *Chain) Observe(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Execute runs the chain over a bill. It always returns a result; rule
// faults become skipped results and the run continues.
func (c *Chain) Execute(ctx context.Context, bill *domain.Bill, ec *domain.EvalContext) *domain.ChainResult {
	c.mu.RLock()
	rules := slices.Clone(c.rules)
	observer := c.observer
	c.mu.RUnlock()

	if ec == nil {
		ec = domain.NewEvalContext()
	}

	out := &domain.ChainResult{
		ClaimID:  bill.ClaimID,
		Results:  make([]domain.RuleResult, 0, len(rules)),
		Issues:   []string{},
		Warnings: []string{},
	}

	for _, rule := range rules {
		start := time.Now()
		res := runRule(ctx, rule, bill, ec)
		res.ExecutionMs = float64(time.Since(start).Microseconds()) / 1000.0

		out.Results = append(out.Results, res)
		out.ExecutionMs += res.ExecutionMs
		ec.Merge(res.ContextUpdates)

		if observer != nil {
			observer(rule, res)
		}

		if res.Succeeded() && res.IsCritical {
			slog.InfoContext(ctx, "critical rule passed, stopping chain",
				"claim_id", bill.ClaimID,
				"rule_id", res.RuleID,
			)
			break
		}
		if res.Failed() && res.IsFatal {
			slog.InfoContext(ctx, "fatal rule failed, stopping chain",
				"claim_id", bill.ClaimID,
				"rule_id", res.RuleID,
				"message", res.Message,
			)
			break
		}
	}

	aggregate(out)
	return out
}

// runRule evaluates one rule, converting returned errors and panics into
// skipped results.
func runRule(ctx context.Context, rule Rule, bill *domain.Bill, ec *domain.EvalContext) (res domain.RuleResult) {
	defer func() {
		if p := recover(); p != nil {
			res = faultResult(ctx, rule, bill, fmt.Errorf("%v", p), fmt.Sprintf("%T", p))
		}
	}()

	res, err := rule.Evaluate(bill, ec)
	if err != nil {
		return faultResult(ctx, rule, bill, err, fmt.Sprintf("%T", err))
	}
	if res.RuleID == "" {
		res.RuleID = rule.ID()
	}
	if res.RuleName == "" {
		res.RuleName = rule.Name()
	}
	return res
}

func faultResult(ctx context.Context, rule Rule, bill *domain.Bill, err error, kind string) domain.RuleResult {
	slog.ErrorContext(ctx, "rule execution failed",
		"claim_id", bill.ClaimID,
		"rule_id", rule.ID(),
		"error", err,
	)
	return Skipped(rule.ID(), rule.Name(), fmt.Sprintf("Rule execution error: %v", err), map[string]any{
		"error":          err.Error(),
		"exception_type": kind,
	})
}

// aggregate fills in the decision, scores, issues and warnings.
func aggregate(out *domain.ChainResult) {
	var (
		passes, failures int
		fatal, skipped   bool
		weighted         float64
	)

	for _, r := range out.Results {
		switch {
		case r.Skipped || r.Passed == nil:
			skipped = true
		case *r.Passed:
			passes++
		default:
			if r.IsFatal {
				fatal = true
				out.Issues = append(out.Issues, r.Message)
			} else {
				failures++
				out.Warnings = append(out.Warnings, r.Message)
			}
			if r.Score != nil {
				weighted += r.Weight * *r.Score
			}
		}
	}

	out.FraudScore = math.Min(weighted, 1.0)
	out.ComplianceScore = math.Max(1.0-weighted, 0.0)
	out.FinalDecision = decide(fatal, skipped, failures, passes)
}

func decide(fatal, skipped bool, failures, passes int) domain.Decision {
	switch {
	case fatal:
		return domain.DecisionRejected
	case skipped:
		return domain.DecisionPending
	case failures > 0 && passes > 0:
		if failures <= passes {
			return domain.DecisionReviewRequired
		}
		return domain.DecisionRejected
	case passes > 0 && failures == 0:
		return domain.DecisionApproved
	default:
		return domain.DecisionRejected
	}
}
