// Package ml provides the fraud model ensemble: a supervised classifier
// blended with an unsupervised outlier detector.
package ml

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync/atomic"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Ensemble blend weights and neutral scores for untrained models.
const (
	ClassifierWeight  = 0.7
	OutlierWeight     = 0.3
	NeutralClassifier = 0.5
	NeutralOutlier    = 0.0
)

// Prediction is the ensemble output.
type Prediction struct {
	FraudProbability float64            `json:"fraudProbability"`
	IndividualScores map[string]float64 `json:"individualScores"`
}

// Stats counts ensemble activity.
type Stats struct {
	PredictionsMade int64 `json:"predictionsMade"`
	Errors          int64 `json:"errors"`
}

// Ensemble scores feature vectors. A nil model is untrained.
type Ensemble struct {
	classifier Classifier
	outlier    OutlierDetector

	predictions atomic.Int64
	errors      atomic.Int64
}

// NewEnsemble wraps the given models. Either may be nil.
func NewEnsemble(classifier Classifier, outlier OutlierDetector) *Ensemble {
	e := &Ensemble{}
	// Keep typed-nil pointers from looking trained.
	if lm, ok := classifier.(*LogisticModel); !ok || lm != nil {
		e.classifier = classifier
	}
	if om, ok := outlier.(*OutlierModel); !ok || om != nil {
		e.outlier = outlier
	}
	return e
}

// NewEnsembleFromConfig loads the configured artifacts. Empty or missing
// paths leave a model untrained; a malformed artifact is an error.
func NewEnsembleFromConfig(cfg domain.MLConfig) (*Ensemble, error) {
	var classifier Classifier
	var outlier OutlierDetector

	if cfg.ClassifierPath != "" {
		m, err := LoadClassifier(cfg.ClassifierPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("classifier artifact not found, using neutral scores", "path", cfg.ClassifierPath)
		case err != nil:
			return nil, err
		default:
			classifier = m
		}
	}
	if cfg.OutlierPath != "" {
		m, err := LoadOutlier(cfg.OutlierPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("outlier artifact not found, using neutral scores", "path", cfg.OutlierPath)
		case err != nil:
			return nil, err
		default:
			outlier = m
		}
	}
	return NewEnsemble(classifier, outlier), nil
}

// PredictOption toggles ensemble members.
type PredictOption func(*predictOptions)

type predictOptions struct {
	supervised   bool
	unsupervised bool
}

// WithSupervised enables or disables the classifier.
func WithSupervised(on bool) PredictOption {
	return func(o *predictOptions) { o.supervised = on }
}

// WithUnsupervised enables or disables the outlier detector.
func WithUnsupervised(on bool) PredictOption {
	return func(o *predictOptions) { o.unsupervised = on }
}

// PredictFraud returns 0.7*classifier + 0.3*outlier. Disabled or untrained
// members contribute their neutral score. A model failure is logged and
// counted, and the neutral prediction is returned.
func (e *Ensemble) PredictFraud(ctx context.Context, features []float64, opts ...PredictOption) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	o := predictOptions{supervised: true, unsupervised: true}
	for _, opt := range opts {
		opt(&o)
	}

	cls, out := NeutralClassifier, NeutralOutlier
	var err error
	if o.supervised && e.classifier != nil {
		if cls, err = e.classifier.FraudProbability(features); err != nil {
			return e.neutral(ctx, fmt.Errorf("classifier: %w", err)), nil
		}
	}
	if o.unsupervised && e.outlier != nil {
		if out, err = e.outlier.AnomalyScore(features); err != nil {
			return e.neutral(ctx, fmt.Errorf("outlier detector: %w", err)), nil
		}
	}

	e.predictions.Add(1)
	return Prediction{
		FraudProbability: ClassifierWeight*cls + OutlierWeight*out,
		IndividualScores: map[string]float64{"classifier": cls, "outlier": out},
	}, nil
}

func (e *Ensemble) neutral(ctx context.Context, err error) Prediction {
	slog.ErrorContext(ctx, "fraud prediction failed", "error", err)
	e.errors.Add(1)
	return Prediction{
		FraudProbability: NeutralClassifier,
		IndividualScores: map[string]float64{"classifier": NeutralClassifier, "outlier": NeutralOutlier},
	}
}

// Trained reports which members are loaded.
func (e *Ensemble) Trained() (classifier, outlier bool) {
	return e.classifier != nil, e.outlier != nil
}

// Stats returns a snapshot of the counters.
func (e *Ensemble) Stats() Stats {
	return Stats{PredictionsMade: e.predictions.Load(), Errors: e.errors.Load()}
}
