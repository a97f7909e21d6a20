package evaluator

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/medaudit/internal/catalog"
	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/history"
	"github.com/opensource-finance/medaudit/internal/ml"
	"github.com/opensource-finance/medaudit/internal/repository"
	"github.com/opensource-finance/medaudit/internal/rules"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

const notes = "Patient seen for hypertension follow-up; blood pressure reviewed and medication adjusted."

var billDay = time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "evaluator-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func cleanBill(claimID string) *domain.Bill {
	return &domain.Bill{
		ClaimID:           claimID,
		PatientID:         "PAT-1",
		ProviderID:        "PRV-1",
		ProcedureCode:     "99213",
		DiagnosisCode:     "I10",
		BilledAmount:      domain.Float(150),
		AllowedAmount:     domain.Float(150),
		DocumentationText: notes,
		BillDate:          billDay,
	}
}

func mustSave(t *testing.T, repo domain.Repository, bills ...*domain.Bill) {
	t.Helper()
	for _, b := range bills {
		if err := repo.SaveBill(context.Background(), b); err != nil {
			t.Fatalf("SaveBill %s failed: %v", b.ClaimID, err)
		}
	}
}

// seed stores the catalog and a prior visit so every rule has data.
func seed(t *testing.T, repo domain.Repository) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []*domain.BillingCode{
		{Code: "99213", CodeType: domain.CodeCPT, Description: "Office visit, established", Status: "active"},
		{Code: "99214", CodeType: domain.CodeCPT, Description: "Office visit, moderate", Status: "active"},
		{Code: "I10", CodeType: domain.CodeICD10, Description: "Essential hypertension", Status: "active"},
	} {
		if err := repo.SaveBillingCode(ctx, c); err != nil {
			t.Fatalf("SaveBillingCode failed: %v", err)
		}
	}
	prior := cleanBill("CLM-PRIOR")
	prior.ProcedureCode = "99214"
	prior.BillDate = billDay.AddDate(0, 0, -30)
	mustSave(t, repo, prior)
}

func newService(repo domain.Repository, opts ...Option) *Service {
	opts = append([]Option{
		WithHistory(history.NewService(repo, 90)),
		WithCatalog(catalog.New(repo, nil, 0)),
	}, opts...)
	return New(repo, rules.NewDefaultChain(), scoring.NewDefaultEngine(), opts...)
}

type failingEnricher struct{}

func (failingEnricher) Enrich(context.Context, *domain.Bill, *domain.EvalContext) error {
	return errors.New("neo4j unavailable")
}

type fixedModel struct {
	p   float64
	err error
}

func (m fixedModel) PredictFraud(context.Context, []float64, ...ml.PredictOption) (ml.Prediction, error) {
	return ml.Prediction{FraudProbability: m.p}, m.err
}

type fixedNetwork struct{ score float64 }

func (n fixedNetwork) AnalyzeProviderNetwork(_ context.Context, npi string) (*domain.NetworkAnalysis, error) {
	return &domain.NetworkAnalysis{NPI: npi, NetworkRiskScore: n.score}, nil
}

func TestEvaluateBill(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo)
	ctx := context.Background()

	t.Run("CleanBillApproved", func(t *testing.T) {
		mustSave(t, repo, cleanBill("CLM-100"))
		svc := newService(repo)

		res, err := svc.EvaluateBill(ctx, "CLM-100")
		if err != nil {
			t.Fatalf("EvaluateBill failed: %v", err)
		}
		if res.Chain.FinalDecision != domain.DecisionApproved {
			for _, r := range res.Chain.Results {
				t.Logf("%s: %s %s", r.RuleID, r.Outcome(), r.Message)
			}
			t.Fatalf("expected APPROVED, got %s", res.Chain.FinalDecision)
		}
		if len(res.Chain.Results) != 9 {
			t.Errorf("expected all 9 rules to run, got %d", len(res.Chain.Results))
		}
		if res.Chain.FraudScore != 0 || res.Chain.ComplianceScore != 1 {
			t.Errorf("expected fraud 0 and compliance 1, got %.2f/%.2f", res.Chain.FraudScore, res.Chain.ComplianceScore)
		}
		if res.Anomaly == nil || res.Risk == nil {
			t.Fatal("expected anomaly and risk to be attached")
		}
		// rules 0, neutral ml/network/nlp, full legality
		if math.Abs(res.Risk.FinalFraudScore-0.35) > 1e-9 {
			t.Errorf("expected final score 0.35, got %v", res.Risk.FinalFraudScore)
		}
		if res.Risk.RiskLevel != domain.RiskLow {
			t.Errorf("expected low risk, got %s", res.Risk.RiskLevel)
		}
		if len(res.EnrichedContext.HistoricalBills) != 1 {
			t.Errorf("expected the prior visit in context, got %d bills", len(res.EnrichedContext.HistoricalBills))
		}
	})

	t.Run("PersistsChecksAndEvaluation", func(t *testing.T) {
		svc := newService(repo)
		res, err := svc.EvaluateBill(ctx, "CLM-100")
		if err != nil {
			t.Fatalf("EvaluateBill failed: %v", err)
		}

		stored, err := repo.GetEvaluation(ctx, res.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if stored.Chain.FinalDecision != res.Chain.FinalDecision {
			t.Errorf("stored decision %s, want %s", stored.Chain.FinalDecision, res.Chain.FinalDecision)
		}

		checks, err := repo.ListComplianceChecks(ctx, "CLM-100")
		if err != nil {
			t.Fatalf("ListComplianceChecks failed: %v", err)
		}
		// two evaluations of nine non-skipped results each
		if len(checks) != 18 {
			t.Errorf("expected 18 compliance checks, got %d", len(checks))
		}
		for _, c := range checks {
			if c.CheckedBy != domain.ComplianceCheckActor {
				t.Errorf("expected checked_by %s, got %s", domain.ComplianceCheckActor, c.CheckedBy)
			}
		}
	})

	t.Run("ExactDuplicateRejected", func(t *testing.T) {
		original := cleanBill("CLM-200")
		original.ProcedureCode = "99212"
		dup := cleanBill("CLM-201")
		dup.ProcedureCode = "99212"
		mustSave(t, repo, original, dup)

		res, err := newService(repo).EvaluateBill(ctx, "CLM-201")
		if err != nil {
			t.Fatalf("EvaluateBill failed: %v", err)
		}
		if res.Chain.FinalDecision != domain.DecisionRejected {
			t.Fatalf("expected REJECTED, got %s", res.Chain.FinalDecision)
		}
		last := res.Chain.Results[len(res.Chain.Results)-1]
		if last.RuleID != "DUPLICATE_DETECTION" || !last.IsFatal {
			t.Errorf("expected chain to stop on fatal duplicate, last rule %s fatal=%v", last.RuleID, last.IsFatal)
		}
		if len(res.Chain.Issues) != 1 {
			t.Errorf("expected one issue, got %v", res.Chain.Issues)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		svc := newService(repo)
		before := svc.Stats().Errors

		_, err := svc.EvaluateBill(ctx, "CLM-MISSING")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got: %v", err)
		}
		if svc.Stats().Errors != before+1 {
			t.Errorf("expected failed evaluation to count as an error")
		}
	})

	t.Run("CollaboratorFailuresDegrade", func(t *testing.T) {
		svc := newService(repo,
			WithEnricher(failingEnricher{}),
			WithModel(fixedModel{err: errors.New("model crashed")}),
		)
		res, err := svc.EvaluateBill(ctx, "CLM-100")
		if err != nil {
			t.Fatalf("EvaluateBill should not fail on collaborator errors: %v", err)
		}
		if res.Risk.LayerScores.ML != scoring.NeutralScore {
			t.Errorf("expected neutral ML score, got %v", res.Risk.LayerScores.ML)
		}
		if res.EnrichedContext.ProviderNetwork != nil {
			t.Error("expected no provider network after enrichment failure")
		}
	})

	t.Run("LayersFeedComposite", func(t *testing.T) {
		bill := cleanBill("CLM-300")
		bill.ProviderNPI = "1234567890"
		bill.ProcedureCode = "99203"
		bill.DiagnosisCode = "M25.1"
		mustSave(t, repo, bill)

		svc := newService(repo,
			WithModel(fixedModel{p: 0.9}),
			WithNetwork(fixedNetwork{score: 0.3}),
		)
		res, err := svc.EvaluateBill(ctx, "CLM-300")
		if err != nil {
			t.Fatalf("EvaluateBill failed: %v", err)
		}
		if res.Network == nil || res.Network.NPI != "1234567890" {
			t.Fatalf("expected network analysis for the NPI, got %+v", res.Network)
		}
		want := 0.3*res.Chain.FraudScore + 0.3*0.9 + 0.2*0.3 + 0.2*0.5
		if math.Abs(res.Risk.FinalFraudScore-math.Round(want*10000)/10000) > 1e-9 {
			t.Errorf("expected final score %.4f, got %.4f", want, res.Risk.FinalFraudScore)
		}
	})
}

func TestEvaluatePendingWithoutData(t *testing.T) {
	repo := newRepo(t)
	svc := New(repo, rules.NewDefaultChain(), scoring.NewDefaultEngine())

	bill := &domain.Bill{
		ClaimID:           "CLM-SPARSE",
		PatientID:         "PAT-9",
		ProviderID:        "PRV-9",
		ProcedureCode:     "99213",
		DocumentationText: notes,
		BilledAmount:      domain.Float(120),
		BillDate:          billDay,
	}

	res := svc.Evaluate(context.Background(), bill, domain.NewEvalContext())
	if res.FinalDecision != domain.DecisionPending {
		t.Fatalf("expected PENDING, got %s", res.FinalDecision)
	}
	if len(res.Results) != 9 {
		t.Errorf("expected every attempted result, got %d", len(res.Results))
	}

	skipped := 0
	for _, r := range res.Results {
		if r.Skipped {
			skipped++
		}
	}
	stats := svc.Stats()
	if stats.BillsEvaluated != 1 || stats.RulesExecuted != 9 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Errors != int64(skipped) {
		t.Errorf("expected errors %d to equal skipped count, got %d", skipped, stats.Errors)
	}

	svc.ResetStats()
	if svc.Stats() != (domain.EngineStats{}) {
		t.Errorf("expected zeroed stats, got %+v", svc.Stats())
	}
}

func TestBatchEvaluate(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo)
	for _, id := range []string{"CLM-B1", "CLM-B2", "CLM-B3"} {
		b := cleanBill(id)
		b.PatientID = "PAT-" + id
		mustSave(t, repo, b)
	}

	svc := newService(repo)
	ids := []string{"CLM-B1", "CLM-NOPE", "CLM-B2", "CLM-B3"}

	results, summary := svc.BatchEvaluate(context.Background(), ids, 2)
	if summary.Total != 4 || summary.Processed != 3 {
		t.Fatalf("expected 3/4 processed, got %d/%d", summary.Processed, summary.Total)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if len(summary.Failures) != 1 || summary.Failures[0].ClaimID != "CLM-NOPE" {
		t.Errorf("expected CLM-NOPE to fail, got %+v", summary.Failures)
	}
	if !strings.Contains(summary.Failures[0].Error, "not found") {
		t.Errorf("expected not-found failure, got %q", summary.Failures[0].Error)
	}
	for i, want := range []string{"CLM-B1", "CLM-B2", "CLM-B3"} {
		if results[i].ClaimID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, results[i].ClaimID)
		}
	}
}

func TestBatchEvaluateCancelled(t *testing.T) {
	repo := newRepo(t)
	svc := newService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, summary := svc.BatchEvaluate(ctx, []string{"A", "B", "C"}, 0)
	if len(results) != 0 || summary.Processed != 0 {
		t.Errorf("expected nothing processed, got %d", summary.Processed)
	}
	if len(summary.Failures) != 3 {
		t.Errorf("expected 3 failures, got %d", len(summary.Failures))
	}
}

func TestComplianceChecksSkipsSkipped(t *testing.T) {
	pass, fail := true, false
	result := &domain.ChainResult{Results: []domain.RuleResult{
		{RuleID: "A", Passed: &pass},
		{RuleID: "B", Passed: &fail, Message: "bad"},
		{RuleID: "C", Skipped: true},
	}}
	bill := &domain.Bill{ID: "b-1", ClaimID: "CLM-1"}

	checks := ComplianceChecks(bill, result, billDay)
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	if checks[0].Status != domain.CompliancePassed || checks[1].Status != domain.ComplianceFailed {
		t.Errorf("unexpected statuses: %s, %s", checks[0].Status, checks[1].Status)
	}
	if checks[1].ClaimID != "CLM-1" || checks[1].BillID != "b-1" {
		t.Errorf("expected bill identifiers on check, got %+v", checks[1])
	}
}
