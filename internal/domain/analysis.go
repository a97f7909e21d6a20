package domain

import "time"

// AnomalyResult holds per-bill statistical findings.
type AnomalyResult struct {
	ZScore          float64       `json:"zScore"`
	ZScoreAnomalous bool          `json:"zScoreAnomalous"`
	Benford         BenfordResult `json:"benford"`
	Spikes          []Spike       `json:"spikes,omitempty"`
	AnomalyScore    float64       `json:"anomalyScore"`
}

// BenfordResult is a leading-digit goodness-of-fit test.
type BenfordResult struct {
	ChiSquare  float64    `json:"chiSquare"`
	PValue     float64    `json:"pValue"`
	Anomalous  bool       `json:"anomalous"`
	SampleSize int        `json:"sampleSize"`
	Observed   [9]float64 `json:"observed"`
}

// Spike is one event whose trailing-window count is unusually high.
type Spike struct {
	Timestamp    time.Time `json:"timestamp"`
	WindowCount  int       `json:"windowCount"`
	ZScore       float64   `json:"zScore"`
	AnomalyScore float64   `json:"anomalyScore"`
}

// ProviderNetwork summarizes the facilities reachable from a provider.
type ProviderNetwork struct {
	ProviderName       string `json:"providerName,omitempty"`
	Specialty          string `json:"specialty,omitempty"`
	HospitalName       string `json:"hospitalName,omitempty"`
	InsurerName        string `json:"insurerName,omitempty"`
	ContractedHospital string `json:"contractedHospital,omitempty"`
	OwnedHospital      string `json:"ownedHospital,omitempty"`
}

// Regulation applies to a claim.
type Regulation struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Active   bool   `json:"active"`
}

// NetworkAnalysis is the provider network-risk summary.
type NetworkAnalysis struct {
	NPI              string              `json:"npi"`
	PageRank         *PageRankResult     `json:"pagerank,omitempty"`
	Connectivity     *ConnectivityResult `json:"connectivity,omitempty"`
	NetworkRiskScore float64             `json:"networkRiskScore"`
}

// PageRankResult is a provider's centrality.
type PageRankResult struct {
	Score    float64 `json:"pagerankScore"`
	Rank     int     `json:"rank"`
	Position string  `json:"networkPosition"`
}

// Component is one connected component summary.
type Component struct {
	ID   int64 `json:"componentId"`
	Size int64 `json:"componentSize"`
}

// ConnectivityResult summarizes weakly and strongly connected components.
type ConnectivityResult struct {
	Weak     []Component `json:"weaklyConnectedComponents"`
	Strong   []Component `json:"stronglyConnectedComponents"`
	WCCCount int         `json:"wccCount"`
	SCCCount int         `json:"sccCount"`
}

// LegalityReport is the result of code legality checks on a bill.
type LegalityReport struct {
	Compatible    bool     `json:"isCompatible"`
	ShouldBundle  bool     `json:"shouldBundle"`
	WithinRange   bool     `json:"isWithinRange"`
	Violations    []string `json:"violations,omitempty"`
	BundlePairs   []string `json:"bundlePairs,omitempty"`
	ExcessAmount  float64  `json:"excessAmount"`
	LegalityScore float64  `json:"legalityScore"`
}
