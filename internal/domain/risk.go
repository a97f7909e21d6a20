package domain

// RiskLevel buckets a final fraud score.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// ScoringWeights are the four primary layer weights. They sum to 1.
type ScoringWeights struct {
	Rules   float64 `json:"rules" koanf:"rules"`
	ML      float64 `json:"ml" koanf:"ml"`
	Network float64 `json:"network" koanf:"network"`
	NLP     float64 `json:"nlp" koanf:"nlp"`
}

// Sum returns the total weight.
func (w ScoringWeights) Sum() float64 {
	return w.Rules + w.ML + w.Network + w.NLP
}

// LayerScores are the per-layer inputs used by a composite score.
type LayerScores struct {
	Rules        float64 `json:"rules"`
	ML           float64 `json:"ml"`
	Network      float64 `json:"network"`
	NLP          float64 `json:"nlp"`
	CodeLegality float64 `json:"codeLegality"`
}

// CompositeScore is the final blended fraud assessment for one bill.
type CompositeScore struct {
	FinalFraudScore float64        `json:"finalFraudScore"`
	RiskLevel       RiskLevel      `json:"riskLevel"`
	LayerScores     LayerScores    `json:"layerScores"`
	ScoreVariance   float64        `json:"scoreVariance"`
	Weights         ScoringWeights `json:"weights"`
}
