package ml

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Classifier produces a fraud probability in [0,1].
type Classifier interface {
	FraudProbability(x []float64) (float64, error)
}

// OutlierDetector produces an anomaly score in [0,1].
type OutlierDetector interface {
	AnomalyScore(x []float64) (float64, error)
}

// standardizer centers and scales features.
type standardizer struct {
	Mean  []float64
	Scale []float64
}

func fitStandardizer(X [][]float64) standardizer {
	n := len(X[0])
	s := standardizer{Mean: make([]float64, n), Scale: make([]float64, n)}
	col := make([]float64, len(X))
	for j := range n {
		for i, row := range X {
			col[i] = row[j]
		}
		s.Mean[j] = stat.Mean(col, nil)
		s.Scale[j] = math.Sqrt(stat.PopVariance(col, nil))
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s
}

func (s standardizer) transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("feature %d is not finite", i)
		}
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

// LogisticModel is a standardized logistic regression classifier.
type LogisticModel struct {
	standardizer
	Coef      []float64
	Intercept float64
}

// FraudProbability implements Classifier.
func (m *LogisticModel) FraudProbability(x []float64) (float64, error) {
	z, err := m.transform(x)
	if err != nil {
		return 0, err
	}
	logit := m.Intercept
	for i, v := range z {
		logit += m.Coef[i] * v
	}
	return 1 / (1 + math.Exp(-logit)), nil
}

// FitLogistic trains a classifier by batch gradient descent. Labels are 0
// for legitimate and 1 for fraudulent bills.
func FitLogistic(X [][]float64, y []float64, epochs int, rate float64) (*LogisticModel, error) {
	if err := checkTrainingSet(X); err != nil {
		return nil, err
	}
	if len(y) != len(X) {
		return nil, fmt.Errorf("got %d labels for %d samples", len(y), len(X))
	}
	if epochs <= 0 {
		epochs = 500
	}
	if rate <= 0 {
		rate = 0.1
	}

	m := &LogisticModel{standardizer: fitStandardizer(X)}
	m.Coef = make([]float64, len(X[0]))

	Z := make([][]float64, len(X))
	for i, row := range X {
		z, err := m.transform(row)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		Z[i] = z
	}

	n := float64(len(Z))
	grad := make([]float64, len(m.Coef))
	for range epochs {
		clear(grad)
		gradIntercept := 0.0
		for i, z := range Z {
			logit := m.Intercept
			for j, v := range z {
				logit += m.Coef[j] * v
			}
			diff := 1/(1+math.Exp(-logit)) - y[i]
			gradIntercept += diff
			for j, v := range z {
				grad[j] += diff * v
			}
		}
		m.Intercept -= rate * gradIntercept / n
		for j := range m.Coef {
			m.Coef[j] -= rate * grad[j] / n
		}
	}
	return m, nil
}

// OutlierModel scores the largest standardized feature distance against a
// cutoff learned from training data.
type OutlierModel struct {
	standardizer
	Cutoff float64
}

// AnomalyScore implements OutlierDetector.
func (m *OutlierModel) AnomalyScore(x []float64) (float64, error) {
	z, err := m.transform(x)
	if err != nil {
		return 0, err
	}
	return math.Min(maxAbs(z)/m.Cutoff, 1.0), nil
}

// FitOutlier learns feature scales and sets the cutoff at the distance
// exceeded by the given contamination share of training samples.
func FitOutlier(X [][]float64, contamination float64) (*OutlierModel, error) {
	if err := checkTrainingSet(X); err != nil {
		return nil, err
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.1
	}

	m := &OutlierModel{standardizer: fitStandardizer(X)}
	dist := make([]float64, len(X))
	for i, row := range X {
		z, err := m.transform(row)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		dist[i] = maxAbs(z)
	}
	slices.Sort(dist)

	m.Cutoff = stat.Quantile(1-contamination, stat.Empirical, dist, nil)
	if m.Cutoff <= 0 {
		m.Cutoff = 3.0
	}
	return m, nil
}

func checkTrainingSet(X [][]float64) error {
	if len(X) < 2 {
		return fmt.Errorf("need at least 2 samples, got %d", len(X))
	}
	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("samples have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("sample %d has %d features, expected %d", i, len(row), width)
		}
	}
	return nil
}

func maxAbs(z []float64) float64 {
	m := 0.0
	for _, v := range z {
		m = math.Max(m, math.Abs(v))
	}
	return m
}
