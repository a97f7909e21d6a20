// Package evaluator runs the full bill evaluation pipeline: context
// enrichment, the rule chain, anomaly detection, model and network scoring,
// and the composite risk score.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/medaudit/internal/anomaly"
	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/metrics"
	"github.com/opensource-finance/medaudit/internal/ml"
	"github.com/opensource-finance/medaudit/internal/rules"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

var tracer = otel.Tracer("medaudit-evaluator")

// Store is the persistence the pipeline reads bills from and writes
// results to.
type Store interface {
	GetBillByClaimID(ctx context.Context, claimID string) (*domain.Bill, error)
	SaveComplianceChecks(ctx context.Context, checks []*domain.ComplianceCheck) error
	SaveEvaluation(ctx context.Context, eval *domain.EvaluationResult) error
}

// HistoryProvider returns comparison bills for a bill.
type HistoryProvider interface {
	ForBill(ctx context.Context, bill *domain.Bill) ([]*domain.Bill, error)
}

// CodeCatalog resolves billing codes.
type CodeCatalog interface {
	Lookup(ctx context.Context, codes []string) (map[string]domain.BillingCode, error)
}

// Enricher attaches provider network and regulation context.
type Enricher interface {
	Enrich(ctx context.Context, bill *domain.Bill, ec *domain.EvalContext) error
}

// NetworkScorer scores a provider's network position.
type NetworkScorer interface {
	AnalyzeProviderNetwork(ctx context.Context, npi string) (*domain.NetworkAnalysis, error)
}

// FraudModel predicts a fraud probability from a feature vector.
type FraudModel interface {
	PredictFraud(ctx context.Context, features []float64, opts ...ml.PredictOption) (ml.Prediction, error)
}

// LegalityChecker audits codes and amounts.
type LegalityChecker interface {
	Analyze(ctx context.Context, bill *domain.Bill, related ...string) (domain.LegalityReport, error)
}

// DefaultBatchSize is the batch width when none is configured.
const DefaultBatchSize = 10

// Service evaluates bills. Collaborators other than the store, chain and
// scorer are optional; a missing one contributes its neutral score.
type Service struct {
	store    Store
	chain    *rules.Chain
	scorer   *scoring.Engine
	detector *anomaly.Detector

	history  HistoryProvider
	catalog  CodeCatalog
	enricher Enricher
	network  NetworkScorer
	model    FraudModel
	legality LegalityChecker

	batchSize int

	billsEvaluated atomic.Int64
	rulesExecuted  atomic.Int64
	errors         atomic.Int64
}

// Option configures a Service.
type Option func(*Service)

// WithHistory sets the historical bills provider.
func WithHistory(h HistoryProvider) Option { return func(s *Service) { s.history = h } }

// WithCatalog sets the billing code catalog.
func WithCatalog(c CodeCatalog) Option { return func(s *Service) { s.catalog = c } }

// WithEnricher sets the context enricher.
func WithEnricher(e Enricher) Option { return func(s *Service) { s.enricher = e } }

// WithNetwork sets the provider network scorer.
func WithNetwork(n NetworkScorer) Option { return func(s *Service) { s.network = n } }

// WithModel sets the ML fraud model.
func WithModel(m FraudModel) Option { return func(s *Service) { s.model = m } }

// WithLegality sets the code legality checker.
func WithLegality(l LegalityChecker) Option { return func(s *Service) { s.legality = l } }

// WithDetector replaces the default anomaly detector.
func WithDetector(d *anomaly.Detector) Option { return func(s *Service) { s.detector = d } }

// WithBatchSize sets the default batch width.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates an evaluation service. The chain reports rule outcomes to the
// metrics package.
func New(store Store, chain *rules.Chain, scorer *scoring.Engine, opts ...Option) *Service {
	s := &Service{
		store:     store,
		chain:     chain,
		scorer:    scorer,
		detector:  anomaly.NewDetector(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	chain.Observe(func(_ rules.Rule, res domain.RuleResult) {
		metrics.ObserveRule(res.RuleID, res.Outcome(), res.ExecutionMs)
	})
	return s
}

// Chain returns the rule chain the service runs.
func (s *Service) Chain() *rules.Chain {
	return s.chain
}

// Scorer returns the risk scoring engine.
func (s *Service) Scorer() *scoring.Engine {
	return s.scorer
}

// Evaluate runs the rule chain over a bill and context the caller has
// already assembled.
func (s *Service) Evaluate(ctx context.Context, bill *domain.Bill, ec *domain.EvalContext) *domain.ChainResult {
	result := s.chain.Execute(ctx, bill, ec)
	s.record(result)
	return result
}

// EvaluateBill loads a bill and runs the full pipeline. A missing bill
// returns an error matching domain.ErrNotFound. Collaborator failures degrade
// to neutral scores and never fail the evaluation.
func (s *Service) EvaluateBill(ctx context.Context, claimID string) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "EvaluateBill",
		trace.WithAttributes(attribute.String("claim.id", claimID)),
	)
	defer span.End()

	bill, err := s.store.GetBillByClaimID(ctx, claimID)
	if err != nil {
		s.errors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bill lookup failed")
		if errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "bill not found", "claim_id", claimID)
			return nil, fmt.Errorf("bill %s: %w", claimID, err)
		}
		return nil, fmt.Errorf("failed to load bill %s: %w", claimID, err)
	}

	start := time.Now()
	ec := s.buildContext(ctx, bill)
	chain := s.Evaluate(ctx, bill, ec)
	s.saveComplianceChecks(ctx, bill, chain)

	result := &domain.EvaluationResult{
		ID:              uuid.New().String(),
		ClaimID:         bill.ClaimID,
		Chain:           *chain,
		EnrichedContext: ec,
		TraceID:         span.SpanContext().TraceID().String(),
		CreatedAt:       time.Now().UTC(),
	}
	if !span.SpanContext().TraceID().IsValid() {
		result.TraceID = ""
	}

	an := s.detector.AnalyzeBill(bill, ec.HistoricalBills)
	result.Anomaly = &an

	layers := scoring.NeutralLayers()
	layers.Rules = chain.FraudScore
	layers.ML = s.modelScore(ctx, bill, ec.HistoricalBills)
	if analysis := s.networkAnalysis(ctx, bill); analysis != nil {
		result.Network = analysis
		layers.Network = analysis.NetworkRiskScore
	}
	if report := s.legalityReport(ctx, bill); report != nil {
		result.Legality = report
		layers.CodeLegality = report.LegalityScore
	}

	risk := s.scorer.Score(layers)
	result.Risk = &risk
	metrics.RiskLevelsTotal.WithLabelValues(string(risk.RiskLevel)).Inc()

	span.SetAttributes(
		attribute.String("decision", string(chain.FinalDecision)),
		attribute.Float64("risk.score", risk.FinalFraudScore),
	)

	if err := s.store.SaveEvaluation(ctx, result); err != nil {
		slog.WarnContext(ctx, "failed to save evaluation", "claim_id", claimID, "error", err)
	}

	slog.InfoContext(ctx, "bill evaluated",
		"claim_id", claimID,
		"decision", chain.FinalDecision,
		"fraud_score", chain.FraudScore,
		"compliance_score", chain.ComplianceScore,
		"risk_score", risk.FinalFraudScore,
		"risk_level", risk.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// buildContext gathers history, billing codes and graph context. Every
// source is best effort.
func (s *Service) buildContext(ctx context.Context, bill *domain.Bill) *domain.EvalContext {
	ec := domain.NewEvalContext()

	if s.history != nil {
		bills, err := s.history.ForBill(ctx, bill)
		if err != nil {
			s.degraded(ctx, "history", bill, err)
		} else {
			ec.HistoricalBills = bills
		}
	}

	if s.catalog != nil {
		if codes := bill.Codes(); len(codes) > 0 {
			found, err := s.catalog.Lookup(ctx, codes)
			if err != nil {
				s.degraded(ctx, "catalog", bill, err)
			} else {
				ec.BillingCodes = found
			}
		}
	}

	if s.enricher != nil {
		if err := s.enricher.Enrich(ctx, bill, ec); err != nil {
			s.degraded(ctx, "graph", bill, err)
		}
	}

	return ec
}

func (s *Service) modelScore(ctx context.Context, bill *domain.Bill, history []*domain.Bill) float64 {
	if s.model == nil {
		return scoring.NeutralScore
	}
	pred, err := s.model.PredictFraud(ctx, ml.ExtractFeatures(bill, history))
	if err != nil {
		s.degraded(ctx, "ml", bill, err)
		return scoring.NeutralScore
	}
	return pred.FraudProbability
}

func (s *Service) networkAnalysis(ctx context.Context, bill *domain.Bill) *domain.NetworkAnalysis {
	npi := bill.ProviderNPI
	if s.network == nil || npi == "" {
		return nil
	}
	analysis, err := s.network.AnalyzeProviderNetwork(ctx, npi)
	if err != nil {
		s.degraded(ctx, "network", bill, err)
		return nil
	}
	return analysis
}

func (s *Service) legalityReport(ctx context.Context, bill *domain.Bill) *domain.LegalityReport {
	if s.legality == nil {
		return nil
	}
	report, err := s.legality.Analyze(ctx, bill)
	if err != nil {
		s.degraded(ctx, "legality", bill, err)
		return nil
	}
	return &report
}

func (s *Service) degraded(ctx context.Context, collaborator string, bill *domain.Bill, err error) {
	metrics.CollaboratorFailed(collaborator)
	slog.WarnContext(ctx, "collaborator unavailable, continuing without it",
		"collaborator", collaborator,
		"claim_id", bill.ClaimID,
		"error", err,
	)
}

func (s *Service) record(result *domain.ChainResult) {
	s.billsEvaluated.Add(1)
	s.rulesExecuted.Add(int64(len(result.Results)))
	skipped := 0
	for _, r := range result.Results {
		if r.Skipped {
			skipped++
		}
	}
	s.errors.Add(int64(skipped))
	metrics.EvaluationsTotal.WithLabelValues(string(result.FinalDecision)).Inc()
}

// Stats returns engine counters.
func (s *Service) Stats() domain.EngineStats {
	return domain.EngineStats{
		BillsEvaluated: s.billsEvaluated.Load(),
		RulesExecuted:  s.rulesExecuted.Load(),
		Errors:         s.errors.Load(),
	}
}

// ResetStats zeroes engine counters.
func (s *Service) ResetStats() {
	s.billsEvaluated.Store(0)
	s.rulesExecuted.Store(0)
	s.errors.Store(0)
}
