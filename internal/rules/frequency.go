package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/medaudit/internal/domain"
)

const day = 24 * time.Hour

// frequencyRule counts matching historical bills in a trailing window ending
// at the bill date. Procedure and patient frequency share it.
type frequencyRule struct {
	base
	window time.Duration
	limit  int
	weight float64
	label  string
	match  func(bill, other *domain.Bill) bool
}

// NewProcedureFrequencyRule limits same-provider, same-procedure bills to 50
// in 30 days.
func NewProcedureFrequencyRule() Rule {
	return &frequencyRule{
		base: base{
			id:       "PROCEDURE_FREQUENCY",
			name:     "Procedure Frequency Check",
			priority: 30,
			required: []domain.BillField{domain.FieldProviderID, domain.FieldProcedureCode, domain.FieldBillDate},
		},
		window: 30 * day,
		limit:  50,
		weight: 0.5,
		label:  "Procedure frequency",
		match: func(bill, other *domain.Bill) bool {
			return other.ProviderID == bill.ProviderID && other.ProcedureCode == bill.ProcedureCode
		},
	}
}

// NewPatientFrequencyRule limits same-patient, same-procedure bills to 10 in
// 90 days.
func NewPatientFrequencyRule() Rule {
	return &frequencyRule{
		base: base{
			id:       "PATIENT_FREQUENCY",
			name:     "Patient Procedure Frequency Check",
			priority: 30,
			required: []domain.BillField{domain.FieldPatientID, domain.FieldProcedureCode, domain.FieldBillDate},
		},
		window: 90 * day,
		limit:  10,
		weight: 0.3,
		label:  "Patient procedure frequency",
		match: func(bill, other *domain.Bill) bool {
			return other.PatientID == bill.PatientID && other.ProcedureCode == bill.ProcedureCode
		},
	}
}

// Evaluate implements Rule.
func (r *frequencyRule) Evaluate(bill *domain.Bill, ec *domain.EvalContext) (domain.RuleResult, error) {
	if res, skipped := r.guard(bill); skipped {
		return res, nil
	}
	if ec == nil || len(ec.HistoricalBills) == 0 {
		return r.skip("No historical billing data available"), nil
	}

	end := startOfDay(bill.BillDate)
	cutoff := end.Add(-r.window)

	count := 0
	for _, other := range ec.HistoricalBills {
		if other == nil || other.ClaimID == bill.ClaimID || !r.match(bill, other) {
			continue
		}
		d := startOfDay(other.BillDate)
		if d.Before(cutoff) || d.After(end) {
			continue
		}
		count++
	}

	days := int(r.window / day)
	msg := fmt.Sprintf("%s: %d/%d days (limit: %d)", r.label, count, days, r.limit)
	details := map[string]any{
		"count":       count,
		"limit":       r.limit,
		"window_days": days,
	}

	if count <= r.limit {
		return withScore(r.pass(msg, r.weight, details), 0), nil
	}
	excess := float64(count-r.limit) / float64(r.limit)
	return withScore(r.fail(msg, r.weight, details), clamp01(excess)), nil
}

// DuplicateRule detects exact and near-duplicate submissions. An exact
// duplicate rejects the bill and ends the chain.
type DuplicateRule struct {
	base
	nearWindow time.Duration
}

// NewDuplicateRule creates the duplicate detection check.
func NewDuplicateRule() *DuplicateRule {
	return &DuplicateRule{
		base: base{
			id:       "DUPLICATE_DETECTION",
			name:     "Duplicate Bill Detection",
			priority: 10,
			critical: true,
			fatal:    true,
			required: []domain.BillField{
				domain.FieldPatientID,
				domain.FieldProviderID,
				domain.FieldProcedureCode,
				domain.FieldBillDate,
			},
		},
		nearWindow: 7 * day,
	}
}

// Evaluate implements Rule.
func (r *DuplicateRule) Evaluate(bill *domain.Bill, ec *domain.EvalContext) (domain.RuleResult, error) {
	if res, skipped := r.guard(bill); skipped {
		return res, nil
	}

	var history []*domain.Bill
	if ec != nil {
		history = ec.HistoricalBills
	}

	billDay := startOfDay(bill.BillDate)
	var exact, near []string
	for _, other := range history {
		if other == nil || other.ClaimID == bill.ClaimID {
			continue
		}
		if other.PatientID != bill.PatientID || other.ProviderID != bill.ProviderID || other.ProcedureCode != bill.ProcedureCode {
			continue
		}
		otherDay := startOfDay(other.BillDate)
		if otherDay.Equal(billDay) {
			exact = append(exact, other.ClaimID)
			continue
		}
		gap := billDay.Sub(otherDay)
		if gap < 0 {
			gap = -gap
		}
		if gap <= r.nearWindow {
			near = append(near, other.ClaimID)
		}
	}

	if len(exact) > 0 {
		res := r.fail(fmt.Sprintf("Exact duplicate bill found: %d existing bill(s)", len(exact)), 1.0, map[string]any{
			"duplicate_count":     len(exact),
			"duplicate_claim_ids": exact,
		})
		res.IsFatal = true
		res.IsCritical = true
		return withScore(res, 1.0), nil
	}

	if len(near) > 0 {
		res := r.fail(fmt.Sprintf("Near-duplicate bill found: %d bill(s) within %d days", len(near), int(r.nearWindow/day)), 0.5, map[string]any{
			"near_duplicate_count":     len(near),
			"near_duplicate_claim_ids": near,
		})
		return withScore(res, 0.3), nil
	}

	return withScore(r.pass("No duplicate bills found", 1.0, map[string]any{
		"exact_duplicates": 0,
		"near_duplicates":  0,
	}), 0), nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
