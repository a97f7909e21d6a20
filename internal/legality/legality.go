// Package legality checks billing codes against catalog status, bundling
// pairs and the accepted amount range.
package legality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Score deductions applied to a starting legality of 1.
const (
	incompatiblePenalty = 0.4
	bundlingPenalty     = 0.3
	rangePenalty        = 0.3
)

// CodeLookup resolves billing codes.
type CodeLookup interface {
	Lookup(ctx context.Context, codes []string) (map[string]domain.BillingCode, error)
}

// Stats counts analyzer activity.
type Stats struct {
	CompatibilityChecks int64 `json:"compatibilityChecks"`
	BundlingChecks      int64 `json:"bundlingChecks"`
	AmountValidations   int64 `json:"amountValidations"`
}

// Analyzer produces a LegalityReport for a bill.
type Analyzer struct {
	codes   CodeLookup
	bundles map[string][]string
	min     float64
	max     float64

	compatibility atomic.Int64
	bundling      atomic.Int64
	amounts       atomic.Int64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBundlePairs sets the code pairs that must be billed as one. Pairs are
// symmetric.
func WithBundlePairs(pairs map[string][]string) Option {
	return func(a *Analyzer) {
		for code, others := range pairs {
			for _, other := range others {
				a.bundles[code] = append(a.bundles[code], other)
				a.bundles[other] = append(a.bundles[other], code)
			}
		}
	}
}

// NewAnalyzer creates an analyzer. The default bundling table is empty.
func NewAnalyzer(codes CodeLookup, cfg domain.LegalityConfig, opts ...Option) *Analyzer {
	a := &Analyzer{
		codes:   codes,
		bundles: make(map[string][]string),
		min:     cfg.AmountMin,
		max:     cfg.AmountMax,
	}
	if a.max <= a.min {
		a.max = math.Inf(1)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze checks the bill. Related codes are other procedures billed for the
// same encounter and are considered for bundling.
func (a *Analyzer) Analyze(ctx context.Context, bill *domain.Bill, related ...string) (domain.LegalityReport, error) {
	report := domain.LegalityReport{Compatible: true, WithinRange: true, LegalityScore: 1.0}

	if err := a.checkCompatibility(ctx, bill, &report); err != nil {
		return report, err
	}
	a.checkBundling(bill, related, &report)
	a.checkAmount(bill, &report)

	score := 1.0
	if !report.Compatible {
		score -= incompatiblePenalty
	}
	if report.ShouldBundle {
		score -= bundlingPenalty
	}
	if !report.WithinRange {
		score -= rangePenalty
	}
	report.LegalityScore = math.Max(math.Round(score*10000)/10000, 0)
	return report, nil
}

func (a *Analyzer) checkCompatibility(ctx context.Context, bill *domain.Bill, report *domain.LegalityReport) error {
	if bill.ProcedureCode == "" {
		report.Compatible = false
		report.Violations = append(report.Violations, "No procedure code")
		return nil
	}
	if a.codes == nil {
		return fmt.Errorf("no billing code catalog configured")
	}

	found, err := a.codes.Lookup(ctx, []string{bill.ProcedureCode})
	if err != nil {
		return fmt.Errorf("failed to check code compatibility: %w", err)
	}
	a.compatibility.Add(1)

	if bc, ok := found[bill.ProcedureCode]; !ok || !bc.Active() {
		report.Compatible = false
		report.Violations = append(report.Violations, "CPT code not found or inactive")
	}
	return nil
}

func (a *Analyzer) checkBundling(bill *domain.Bill, related []string, report *domain.LegalityReport) {
	a.bundling.Add(1)

	billed := map[string]bool{}
	for _, c := range append(bill.Codes(), related...) {
		billed[c] = true
	}

	for _, code := range []string{bill.ProcedureCode, bill.HCPCSCode} {
		for _, other := range a.bundles[code] {
			if code != "" && billed[other] {
				report.ShouldBundle = true
				report.BundlePairs = append(report.BundlePairs, code+"+"+other)
			}
		}
	}
	if report.ShouldBundle {
		report.Violations = append(report.Violations, "Codes should be billed as a bundle")
	}
}

func (a *Analyzer) checkAmount(bill *domain.Bill, report *domain.LegalityReport) {
	if bill.BilledAmount == nil {
		return
	}
	a.amounts.Add(1)

	amount := *bill.BilledAmount
	switch {
	case amount > a.max:
		report.WithinRange = false
		report.ExcessAmount = amount - a.max
	case amount < a.min:
		report.WithinRange = false
	}
	if !report.WithinRange {
		slog.Debug("billed amount outside range",
			"claim_id", bill.ClaimID, "amount", amount, "min", a.min, "max", a.max)
		report.Violations = append(report.Violations, fmt.Sprintf("Billed amount %.2f outside %.2f-%.2f", amount, a.min, a.max))
	}
}

// Stats returns a snapshot of the counters.
func (a *Analyzer) Stats() Stats {
	return Stats{
		CompatibilityChecks: a.compatibility.Load(),
		BundlingChecks:      a.bundling.Load(),
		AmountValidations:   a.amounts.Load(),
	}
}
