package legality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/medaudit/internal/domain"
)

type lookupFunc func(ctx context.Context, codes []string) (map[string]domain.BillingCode, error)

func (f lookupFunc) Lookup(ctx context.Context, codes []string) (map[string]domain.BillingCode, error) {
	return f(ctx, codes)
}

var catalog = lookupFunc(func(_ context.Context, codes []string) (map[string]domain.BillingCode, error) {
	known := map[string]domain.BillingCode{
		"99213": {Code: "99213", Status: "active"},
		"36415": {Code: "36415", Status: "active"},
		"99999": {Code: "99999", Status: "inactive"},
	}
	out := map[string]domain.BillingCode{}
	for _, c := range codes {
		if bc, ok := known[c]; ok {
			out[c] = bc
		}
	}
	return out, nil
})

func defaultRange() domain.LegalityConfig {
	return domain.DefaultConfig().Legality
}

func TestAnalyzeClean(t *testing.T) {
	a := NewAnalyzer(catalog, defaultRange())
	report, err := a.Analyze(context.Background(), &domain.Bill{ProcedureCode: "99213", BilledAmount: domain.Float(150)})
	require.NoError(t, err)

	assert.True(t, report.Compatible)
	assert.False(t, report.ShouldBundle)
	assert.True(t, report.WithinRange)
	assert.Equal(t, 1.0, report.LegalityScore)
	assert.Empty(t, report.Violations)
}

func TestAnalyzeDeductions(t *testing.T) {
	a := NewAnalyzer(catalog, defaultRange(), WithBundlePairs(map[string][]string{"99213": {"36415"}}))

	tests := []struct {
		name   string
		bill   *domain.Bill
		rel    []string
		score  float64
		excess float64
	}{
		{"inactive code", &domain.Bill{ProcedureCode: "99999", BilledAmount: domain.Float(100)}, nil, 0.6, 0},
		{"unknown code", &domain.Bill{ProcedureCode: "00000"}, nil, 0.6, 0},
		{"bundled pair", &domain.Bill{ProcedureCode: "99213", BilledAmount: domain.Float(100)}, []string{"36415"}, 0.7, 0},
		{"reverse pair", &domain.Bill{ProcedureCode: "36415", BilledAmount: domain.Float(100)}, []string{"99213"}, 0.7, 0},
		{"over range", &domain.Bill{ProcedureCode: "99213", BilledAmount: domain.Float(12500)}, nil, 0.7, 2500},
		{"negative amount", &domain.Bill{ProcedureCode: "99213", BilledAmount: domain.Float(-5)}, nil, 0.7, 0},
		{"everything", &domain.Bill{ProcedureCode: "99999", HCPCSCode: "36415", BilledAmount: domain.Float(20000)}, nil, 0.3, 10000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report, err := a.Analyze(context.Background(), tc.bill, tc.rel...)
			require.NoError(t, err)
			assert.InDelta(t, tc.score, report.LegalityScore, 1e-9)
			assert.InDelta(t, tc.excess, report.ExcessAmount, 1e-9)
			assert.NotEmpty(t, report.Violations)
		})
	}
}

func TestAnalyzeFloorsAtZero(t *testing.T) {
	a := NewAnalyzer(catalog, defaultRange(), WithBundlePairs(map[string][]string{"99999": {"36415"}}))
	report, err := a.Analyze(context.Background(), &domain.Bill{
		ProcedureCode: "99999", HCPCSCode: "36415", BilledAmount: domain.Float(50000),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.LegalityScore, 0.0)
	assert.False(t, report.Compatible)
	assert.True(t, report.ShouldBundle)
	assert.False(t, report.WithinRange)
}

func TestAnalyzeLookupError(t *testing.T) {
	failing := lookupFunc(func(context.Context, []string) (map[string]domain.BillingCode, error) {
		return nil, errors.New("catalog unavailable")
	})
	a := NewAnalyzer(failing, defaultRange())

	_, err := a.Analyze(context.Background(), &domain.Bill{ProcedureCode: "99213"})
	assert.ErrorContains(t, err, "catalog unavailable")
}

func TestStats(t *testing.T) {
	a := NewAnalyzer(catalog, defaultRange())
	ctx := context.Background()

	_, _ = a.Analyze(ctx, &domain.Bill{ProcedureCode: "99213", BilledAmount: domain.Float(10)})
	_, _ = a.Analyze(ctx, &domain.Bill{ProcedureCode: "99213"})

	assert.Equal(t, Stats{CompatibilityChecks: 2, BundlingChecks: 2, AmountValidations: 1}, a.Stats())
}
