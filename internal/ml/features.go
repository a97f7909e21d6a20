package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// FeatureNames is the column order of a feature vector.
var FeatureNames = []string{
	"billed_amount",
	"amount_zscore",
	"provider_claim_count",
	"provider_avg_ratio",
}

// NumFeatures is the length of every feature vector.
var NumFeatures = len(FeatureNames)

// ExtractFeatures builds the model input for a bill from the provider's
// other bills. Missing amounts contribute zeros.
func ExtractFeatures(bill *domain.Bill, history []*domain.Bill) []float64 {
	var amounts []float64
	for _, h := range history {
		if h == nil || h.ClaimID == bill.ClaimID || h.ProviderID != bill.ProviderID || h.BilledAmount == nil {
			continue
		}
		amounts = append(amounts, *h.BilledAmount)
	}

	billed := 0.0
	if bill.BilledAmount != nil {
		billed = *bill.BilledAmount
	}

	x := make([]float64, NumFeatures)
	x[0] = billed
	x[2] = float64(len(amounts) + 1)

	all := append(amounts, billed)
	if len(all) >= 2 {
		mean := stat.Mean(all, nil)
		if std := math.Sqrt(stat.PopVariance(all, nil)); std > 0 {
			x[1] = (billed - mean) / std
		}
	}

	if len(amounts) > 0 {
		if avg := stat.Mean(amounts, nil); avg != 0 {
			x[3] = billed / avg
		}
	}
	return x
}
