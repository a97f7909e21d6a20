// Package anomaly implements statistical anomaly detection over bill amounts
// and submission timestamps: z-scores, Benford's law and frequency spikes.
package anomaly

import (
	"math"
	"slices"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Defaults for a new Detector.
const (
	DefaultZThreshold        = 3.0
	DefaultSpikeWindow       = 10 * time.Minute
	DefaultSpikeMultiplier   = 3.0
	DefaultBenfordAlpha      = 0.05
	DefaultMinBenfordSamples = 10
)

// benfordExpected[d-1] is log10(1 + 1/d).
var benfordExpected = func() [9]float64 {
	var p [9]float64
	for d := 1; d <= 9; d++ {
		p[d-1] = math.Log10(1 + 1/float64(d))
	}
	return p
}()

// Detector holds detection thresholds. Its methods are pure and safe for
// concurrent use.
type Detector struct {
	ZThreshold        float64
	SpikeWindow       time.Duration
	SpikeMultiplier   float64
	BenfordAlpha      float64
	MinBenfordSamples int
}

// NewDetector returns a Detector with default thresholds.
func NewDetector() *Detector {
	return &Detector{
		ZThreshold:        DefaultZThreshold,
		SpikeWindow:       DefaultSpikeWindow,
		SpikeMultiplier:   DefaultSpikeMultiplier,
		BenfordAlpha:      DefaultBenfordAlpha,
		MinBenfordSamples: DefaultMinBenfordSamples,
	}
}

// ZScores returns (x - mean) / stddev for every value, using the population
// standard deviation. Fewer than two values or zero spread yield all zeros.
func (d *Detector) ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) < 2 {
		return out
	}
	mean, std := meanStd(values)
	if std < 1e-12 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// IsAnomalous reports whether a z-score exceeds the threshold.
func (d *Detector) IsAnomalous(z float64) bool {
	return math.Abs(z) > d.ZThreshold
}

// Benford runs a chi-square goodness-of-fit test of leading digits against
// Benford's law. Small samples return a neutral result.
func (d *Detector) Benford(values []float64) domain.BenfordResult {
	var counts [9]float64
	n := 0
	for _, v := range values {
		digit := leadingDigit(v)
		if digit == 0 {
			continue
		}
		counts[digit-1]++
		n++
	}

	res := domain.BenfordResult{PValue: 1.0, SampleSize: n}
	if n < d.MinBenfordSamples {
		return res
	}

	total := float64(n)
	for i, c := range counts {
		expected := total * benfordExpected[i]
		diff := c - expected
		res.ChiSquare += diff * diff / expected
		res.Observed[i] = c / total
	}

	res.PValue = distuv.ChiSquared{K: 8}.Survival(res.ChiSquare)
	res.Anomalous = res.PValue < d.BenfordAlpha
	return res
}

// leadingDigit returns the first significant digit of |v|, or 0 for zero and
// non-finite values.
func leadingDigit(v float64) int {
	v = math.Abs(v)
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	s := strconv.FormatFloat(v, 'e', -1, 64)
	return int(s[0] - '0')
}

// FrequencySpikes flags events whose trailing-window count is more than
// SpikeMultiplier standard deviations above the mean window count.
// A single forward sweep maintains the window.
func (d *Detector) FrequencySpikes(timestamps []time.Time) []domain.Spike {
	if len(timestamps) < 3 {
		return nil
	}

	ts := slices.Clone(timestamps)
	slices.SortFunc(ts, func(a, b time.Time) int { return a.Compare(b) })

	counts := make([]float64, len(ts))
	head := 0
	for i, t := range ts {
		floor := t.Add(-d.SpikeWindow)
		for ts[head].Before(floor) {
			head++
		}
		counts[i] = float64(i - head + 1)
	}

	mean, std := meanStd(counts)
	if std < 1e-12 {
		return nil
	}

	var spikes []domain.Spike
	for i, c := range counts {
		z := (c - mean) / std
		if z <= d.SpikeMultiplier {
			continue
		}
		spikes = append(spikes, domain.Spike{
			Timestamp:    ts[i],
			WindowCount:  int(c),
			ZScore:       z,
			AnomalyScore: math.Min(z/d.SpikeMultiplier, 1.0),
		})
	}
	return spikes
}

// AnalyzeAmounts scores the last value against the whole sample.
func (d *Detector) AnalyzeAmounts(values []float64) domain.AnomalyResult {
	var res domain.AnomalyResult
	if len(values) == 0 {
		res.Benford = d.Benford(nil)
		return res
	}

	z := d.ZScores(values)
	res.ZScore = z[len(z)-1]
	res.ZScoreAnomalous = d.IsAnomalous(res.ZScore)
	res.Benford = d.Benford(values)
	res.AnomalyScore = d.composite(res.ZScore, res.Benford.Anomalous)
	return res
}

// AnalyzeBill scores a bill's amount against the provider's amounts for the
// same procedure and looks for submission spikes in the provider's history.
func (d *Detector) AnalyzeBill(bill *domain.Bill, history []*domain.Bill) domain.AnomalyResult {
	var amounts []float64
	var times []time.Time
	for _, h := range history {
		if h == nil || h.ClaimID == bill.ClaimID || h.ProviderID != bill.ProviderID {
			continue
		}
		if t := submittedAt(h); !t.IsZero() {
			times = append(times, t)
		}
		if h.ProcedureCode == bill.ProcedureCode && h.BilledAmount != nil {
			amounts = append(amounts, *h.BilledAmount)
		}
	}
	if bill.BilledAmount != nil {
		amounts = append(amounts, *bill.BilledAmount)
	}
	if t := submittedAt(bill); !t.IsZero() {
		times = append(times, t)
	}

	var res domain.AnomalyResult
	if bill.BilledAmount != nil {
		res = d.AnalyzeAmounts(amounts)
	} else {
		res.Benford = d.Benford(amounts)
		res.AnomalyScore = d.composite(0, res.Benford.Anomalous)
	}
	res.Spikes = d.FrequencySpikes(times)
	return res
}

// composite adds 0.5 for |z| > 3, 0.3 for |z| > 2 and 0.5 for a Benford
// anomaly, capped at 1.
func (d *Detector) composite(z float64, benford bool) float64 {
	score := 0.0
	switch az := math.Abs(z); {
	case az > 3:
		score += 0.5
	case az > 2:
		score += 0.3
	}
	if benford {
		score += 0.5
	}
	return math.Min(score, 1.0)
}

func submittedAt(b *domain.Bill) time.Time {
	if !b.CreatedAt.IsZero() {
		return b.CreatedAt
	}
	return b.BillDate
}

func meanStd(values []float64) (float64, float64) {
	mean := stat.Mean(values, nil)
	return mean, math.Sqrt(stat.PopVariance(values, nil))
}
