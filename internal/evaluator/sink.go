package evaluator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// ComplianceChecks converts a chain run into audit records. Skipped results
// produce no record.
func ComplianceChecks(bill *domain.Bill, result *domain.ChainResult, at time.Time) []*domain.ComplianceCheck {
	checks := make([]*domain.ComplianceCheck, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Skipped || r.Passed == nil {
			continue
		}
		status := domain.ComplianceFailed
		if *r.Passed {
			status = domain.CompliancePassed
		}
		checks = append(checks, &domain.ComplianceCheck{
			ID:        uuid.New().String(),
			BillID:    bill.ID,
			ClaimID:   bill.ClaimID,
			RuleID:    r.RuleID,
			RuleName:  r.RuleName,
			Status:    status,
			Passed:    *r.Passed,
			Message:   r.Message,
			Details:   r.Details,
			CheckedAt: at,
			CheckedBy: domain.ComplianceCheckActor,
		})
	}
	return checks
}

func (s *Service) saveComplianceChecks(ctx context.Context, bill *domain.Bill, result *domain.ChainResult) {
	checks := ComplianceChecks(bill, result, time.Now().UTC())
	if len(checks) == 0 {
		return
	}
	if err := s.store.SaveComplianceChecks(ctx, checks); err != nil {
		slog.WarnContext(ctx, "failed to save compliance checks",
			"claim_id", bill.ClaimID,
			"count", len(checks),
			"error", err,
		)
	}
}
