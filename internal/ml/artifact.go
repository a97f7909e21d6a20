package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Artifact kinds and the supported format version.
const (
	KindLogistic    = "logistic"
	KindOutlier     = "outlier"
	ArtifactVersion = 1
)

var (
	// ErrUntrained is returned when saving a model that was never fitted.
	ErrUntrained = errors.New("model is not trained")

	// ErrInvalidArtifact is returned when a persisted model fails validation.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// artifact is the on-disk JSON form of a model.
type artifact struct {
	Kind         string    `json:"kind"`
	Version      int       `json:"version"`
	NFeatures    int       `json:"n_features"`
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
	Coef         []float64 `json:"coef,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`
	Cutoff       float64   `json:"cutoff,omitempty"`
}

// SaveModel writes a *LogisticModel or *OutlierModel as JSON.
func SaveModel(path string, model any) error {
	var a artifact
	switch m := model.(type) {
	case *LogisticModel:
		if m == nil || len(m.Coef) == 0 {
			return ErrUntrained
		}
		a = artifact{Kind: KindLogistic, Mean: m.Mean, Scale: m.Scale, Coef: m.Coef, Intercept: m.Intercept}
	case *OutlierModel:
		if m == nil || m.Cutoff == 0 {
			return ErrUntrained
		}
		a = artifact{Kind: KindOutlier, Mean: m.Mean, Scale: m.Scale, Cutoff: m.Cutoff}
	default:
		return fmt.Errorf("unsupported model type %T", model)
	}
	a.Version = ArtifactVersion
	a.NFeatures = len(a.Mean)
	a.FeatureNames = FeatureNames

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model %s: %w", path, err)
	}
	return nil
}

// LoadModel reads and validates an artifact, returning *LogisticModel or
// *OutlierModel.
func LoadModel(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}

	s := standardizer{Mean: a.Mean, Scale: a.Scale}
	if a.Kind == KindLogistic {
		return &LogisticModel{standardizer: s, Coef: a.Coef, Intercept: a.Intercept}, nil
	}
	return &OutlierModel{standardizer: s, Cutoff: a.Cutoff}, nil
}

// LoadClassifier loads a logistic artifact.
func LoadClassifier(path string) (*LogisticModel, error) {
	m, err := LoadModel(path)
	if err != nil {
		return nil, err
	}
	lm, ok := m.(*LogisticModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a %s model", ErrInvalidArtifact, path, KindLogistic)
	}
	return lm, nil
}

// LoadOutlier loads an outlier artifact.
func LoadOutlier(path string) (*OutlierModel, error) {
	m, err := LoadModel(path)
	if err != nil {
		return nil, err
	}
	om, ok := m.(*OutlierModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an %s model", ErrInvalidArtifact, path, KindOutlier)
	}
	return om, nil
}

func (a artifact) validate() error {
	if a.Version != ArtifactVersion {
		return fmt.Errorf("unsupported version %d", a.Version)
	}
	if a.NFeatures != NumFeatures {
		return fmt.Errorf("n_features is %d, expected %d", a.NFeatures, NumFeatures)
	}
	if len(a.Mean) != a.NFeatures || len(a.Scale) != a.NFeatures {
		return fmt.Errorf("mean/scale length does not match n_features")
	}
	if err := finite("mean", a.Mean...); err != nil {
		return err
	}
	if err := finite("scale", a.Scale...); err != nil {
		return err
	}
	for i, s := range a.Scale {
		if s <= 0 {
			return fmt.Errorf("scale[%d] must be positive", i)
		}
	}

	switch a.Kind {
	case KindLogistic:
		if len(a.Coef) != a.NFeatures {
			return fmt.Errorf("coef length %d does not match n_features", len(a.Coef))
		}
		if err := finite("coef", a.Coef...); err != nil {
			return err
		}
		return finite("intercept", a.Intercept)
	case KindOutlier:
		if err := finite("cutoff", a.Cutoff); err != nil {
			return err
		}
		if a.Cutoff <= 0 {
			return fmt.Errorf("cutoff must be positive")
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", a.Kind)
	}
}

func finite(field string, values ...float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s[%d] is not finite", field, i)
		}
	}
	return nil
}
