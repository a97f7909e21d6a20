// Package scoring blends the per-layer fraud signals into one composite risk
// score and risk level.
package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Layer score map keys accepted by ScoreMap.
const (
	KeyRules        = "rules_fraud_score"
	KeyML           = "ml_fraud_probability"
	KeyNetwork      = "network_risk_score"
	KeyNLP          = "nlp_risk_score"
	KeyCodeLegality = "code_legality_score"
)

// Neutral inputs for absent layers.
const (
	NeutralScore    = 0.5
	NeutralLegality = 1.0
)

// legalityWeight is added on top of the four primary weights.
const legalityWeight = 0.1

// weightTolerance bounds how far a weight set may stray from summing to 1.
const weightTolerance = 0.01

var (
	// ErrInvalidWeights is returned for weights that do not sum to 1.
	ErrInvalidWeights = errors.New("scoring weights must sum to 1.0")

	// ErrInvalidThresholds is returned unless 0 <= medium <= high <= 1.
	ErrInvalidThresholds = errors.New("thresholds must satisfy 0 <= medium <= high <= 1")
)

// Stats counts scoring activity. Anything not high risk counts as low.
type Stats struct {
	ScoresCalculated int64 `json:"scoresCalculated"`
	HighRiskCount    int64 `json:"highRiskCount"`
	LowRiskCount     int64 `json:"lowRiskCount"`
}

// Engine computes composite scores. It is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	weights domain.ScoringWeights
	high    float64
	medium  float64
	stats   Stats
}

// NewEngine creates an engine from config, validating weights and thresholds.
func NewEngine(cfg domain.ScoringConfig) (*Engine, error) {
	if err := ValidateWeights(cfg.Weights); err != nil {
		return nil, err
	}
	if err := ValidateThresholds(cfg.HighThreshold, cfg.MediumThreshold); err != nil {
		return nil, err
	}
	return &Engine{
		weights: cfg.Weights,
		high:    cfg.HighThreshold,
		medium:  cfg.MediumThreshold,
	}, nil
}

// NewDefaultEngine returns an engine with the default weights and thresholds.
func NewDefaultEngine() *Engine {
	e, _ := NewEngine(domain.DefaultConfig().Scoring)
	return e
}

// NeutralLayers returns layer scores with every input at its neutral value.
func NeutralLayers() domain.LayerScores {
	return domain.LayerScores{
		Rules:        NeutralScore,
		ML:           NeutralScore,
		Network:      NeutralScore,
		NLP:          NeutralScore,
		CodeLegality: NeutralLegality,
	}
}

// Score computes the composite score for the given layers:
//
//	final = w_rules*rules + w_ml*ml + w_network*network + w_nlp*nlp + 0.1*(1-legality)
//
// The legality term is additive, so final may exceed 1.
func (e *Engine) Score(layers domain.LayerScores) domain.CompositeScore {
	e.mu.RLock()
	w, high, medium := e.weights, e.high, e.medium
	e.mu.RUnlock()

	legalityRisk := 1 - layers.CodeLegality
	final := w.Rules*layers.Rules +
		w.ML*layers.ML +
		w.Network*layers.Network +
		w.NLP*layers.NLP +
		legalityWeight*legalityRisk

	level := domain.RiskLow
	switch {
	case final >= high:
		level = domain.RiskHigh
	case final >= medium:
		level = domain.RiskMedium
	}

	// Spread is taken over fraud-oriented values, so legality enters inverted.
	all := []float64{layers.Rules, layers.ML, layers.Network, layers.NLP, legalityRisk}
	lo, hi := all[0], all[0]
	for _, v := range all[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	e.mu.Lock()
	e.stats.ScoresCalculated++
	if level == domain.RiskHigh {
		e.stats.HighRiskCount++
	} else {
		e.stats.LowRiskCount++
	}
	e.mu.Unlock()

	return domain.CompositeScore{
		FinalFraudScore: round4(final),
		RiskLevel:       level,
		LayerScores:     layers,
		ScoreVariance:   round4(hi - lo),
		Weights:         w,
	}
}

// ScoreMap scores a keyed layer map. Absent keys take their neutral value;
// unknown keys are ignored.
func (e *Engine) ScoreMap(scores map[string]float64) domain.CompositeScore {
	layers := NeutralLayers()
	if v, ok := scores[KeyRules]; ok {
		layers.Rules = v
	}
	if v, ok := scores[KeyML]; ok {
		layers.ML = v
	}
	if v, ok := scores[KeyNetwork]; ok {
		layers.Network = v
	}
	if v, ok := scores[KeyNLP]; ok {
		layers.NLP = v
	}
	if v, ok := scores[KeyCodeLegality]; ok {
		layers.CodeLegality = v
	}
	return e.Score(layers)
}

// UpdateWeights replaces the primary weights. Invalid sets are logged and
// rejected without changing state.
func (e *Engine) UpdateWeights(w domain.ScoringWeights) error {
	if err := ValidateWeights(w); err != nil {
		slog.Warn("rejected scoring weights", "sum", w.Sum(), "error", err)
		return err
	}
	e.mu.Lock()
	e.weights = w
	e.mu.Unlock()
	slog.Info("scoring weights updated",
		"rules", w.Rules, "ml", w.ML, "network", w.Network, "nlp", w.NLP)
	return nil
}

// UpdateThresholds replaces the risk level thresholds.
func (e *Engine) UpdateThresholds(high, medium float64) error {
	if err := ValidateThresholds(high, medium); err != nil {
		slog.Warn("rejected scoring thresholds", "high", high, "medium", medium)
		return err
	}
	e.mu.Lock()
	e.high, e.medium = high, medium
	e.mu.Unlock()
	return nil
}

// Weights returns the current weights.
func (e *Engine) Weights() domain.ScoringWeights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

// Thresholds returns the current high and medium thresholds.
func (e *Engine) Thresholds() (high, medium float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.high, e.medium
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// ValidateWeights checks that w has no negative entries and sums to 1.
func ValidateWeights(w domain.ScoringWeights) error {
	for _, v := range []float64{w.Rules, w.ML, w.Network, w.NLP} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative or invalid weight %v", ErrInvalidWeights, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: got %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// ValidateThresholds checks 0 <= medium <= high <= 1.
func ValidateThresholds(high, medium float64) error {
	if !(medium >= 0 && medium <= high && high <= 1) {
		return fmt.Errorf("%w: high %.4f, medium %.4f", ErrInvalidThresholds, high, medium)
	}
	return nil
}

// ShouldAlert reports whether an evaluation warrants an alert.
func ShouldAlert(score domain.CompositeScore, decision domain.Decision) bool {
	return score.RiskLevel == domain.RiskHigh || decision == domain.DecisionRejected
}

// round4 rounds reported scores to 4 decimals. Thresholds are applied before
// rounding.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
