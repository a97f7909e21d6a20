package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/medaudit/internal/cache"
	"github.com/opensource-finance/medaudit/internal/domain"
)

// GDS projection the component queries stream over.
const projectionName = "provider_network"

const pageRankQuery = `
MATCH (p:Provider {npi: $npi})
CALL gds.pageRank.stream({
    nodeProjection: 'Provider',
    relationshipProjection: {
        PROVIDES_AT: {orientation: 'NATURAL'},
        CONTRACT_WITH: {orientation: 'NATURAL'}
    },
    maxIterations: $max_iterations,
    dampingFactor: 0.85
})
YIELD nodeId, score
WITH gds.util.asNode(nodeId) AS provider, score
WHERE provider.npi = $npi
RETURN score AS pagerank_score`

// componentQuery summarizes a component stream: the total number of
// components plus the ten largest.
const componentQuery = `
CALL gds.%s.stream($graph)
YIELD nodeId, componentId
WITH componentId, count(*) AS component_size
ORDER BY component_size DESC
WITH collect({component_id: componentId, component_size: component_size}) AS components
RETURN size(components) AS component_count, components[0..10] AS top_components`

const (
	pageRankIterations = 20

	highCentrality   = 0.8
	mediumCentrality = 0.5
	wccRiskCount     = 100

	pageRankRisk     = 0.3
	connectivityRisk = 0.2

	defaultNetworkTTL = 15 * time.Minute
)

// NetworkStats counts graph queries issued.
type NetworkStats struct {
	PageRankQueries int64 `json:"pagerankQueries"`
	WCCQueries      int64 `json:"wccQueries"`
	CacheHits       int64 `json:"cacheHits"`
}

// NetworkAnalyzer scores a provider's position in the provider graph.
type NetworkAnalyzer struct {
	runner Runner
	cache  domain.Cache
	ttl    time.Duration

	pageRankQueries atomic.Int64
	wccQueries      atomic.Int64
	cacheHits       atomic.Int64
}

// NewNetworkAnalyzer creates an analyzer. A nil cache disables caching.
func NewNetworkAnalyzer(runner Runner, c domain.Cache, ttl time.Duration) *NetworkAnalyzer {
	if ttl <= 0 {
		ttl = defaultNetworkTTL
	}
	return &NetworkAnalyzer{runner: runner, cache: c, ttl: ttl}
}

// AnalyzeProviderNetwork runs PageRank and connectivity concurrently and
// combines them into a risk score. A failed part is left empty and adds
// nothing to the score.
func (a *NetworkAnalyzer) AnalyzeProviderNetwork(ctx context.Context, npi string) (*domain.NetworkAnalysis, error) {
	if npi == "" {
		return nil, fmt.Errorf("provider NPI is required")
	}

	key := "network:" + npi
	if a.cache != nil {
		if cached, err := cache.GetJSON[domain.NetworkAnalysis](ctx, a.cache, key); err == nil && cached != nil {
			a.cacheHits.Add(1)
			return cached, nil
		}
	}

	var (
		wg           sync.WaitGroup
		pagerank     *domain.PageRankResult
		connectivity *domain.ConnectivityResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pr, err := a.PageRank(ctx, npi)
		if err != nil {
			slog.Warn("pagerank query failed", "npi", npi, "error", err)
			return
		}
		pagerank = pr
	}()
	go func() {
		defer wg.Done()
		conn, err := a.Connectivity(ctx)
		if err != nil {
			slog.Warn("connectivity query failed", "npi", npi, "error", err)
			return
		}
		connectivity = conn
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	analysis := &domain.NetworkAnalysis{
		NPI:              npi,
		PageRank:         pagerank,
		Connectivity:     connectivity,
		NetworkRiskScore: NetworkRisk(pagerank, connectivity),
	}

	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, analysis, a.ttl); err != nil {
			slog.Warn("failed to cache network analysis", "npi", npi, "error", err)
		}
	}
	return analysis, nil
}

// PageRank returns the provider's centrality. A provider missing from the
// graph gets score 0 and position "unknown".
func (a *NetworkAnalyzer) PageRank(ctx context.Context, npi string) (*domain.PageRankResult, error) {
	rows, err := a.runner.Run(ctx, pageRankQuery, map[string]any{
		"npi":            npi,
		"max_iterations": pageRankIterations,
	})
	if err != nil {
		return nil, err
	}
	a.pageRankQueries.Add(1)

	if len(rows) == 0 {
		return &domain.PageRankResult{Position: "unknown"}, nil
	}

	score := floatVal(rows[0], "pagerank_score")
	return &domain.PageRankResult{Score: score, Rank: 1, Position: Position(score)}, nil
}

// Connectivity summarizes weakly and strongly connected components of the
// provider projection.
func (a *NetworkAnalyzer) Connectivity(ctx context.Context) (*domain.ConnectivityResult, error) {
	params := map[string]any{"graph": projectionName}

	weak, wccCount, err := a.components(ctx, "wcc", params)
	if err != nil {
		return nil, fmt.Errorf("wcc: %w", err)
	}
	strong, sccCount, err := a.components(ctx, "scc", params)
	if err != nil {
		return nil, fmt.Errorf("scc: %w", err)
	}
	a.wccQueries.Add(1)

	return &domain.ConnectivityResult{
		Weak:     weak,
		Strong:   strong,
		WCCCount: wccCount,
		SCCCount: sccCount,
	}, nil
}

func (a *NetworkAnalyzer) components(ctx context.Context, algo string, params map[string]any) ([]domain.Component, int, error) {
	rows, err := a.runner.Run(ctx, fmt.Sprintf(componentQuery, algo), params)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	row := rows[0]
	raw, _ := row["top_components"].([]any)
	comps := make([]domain.Component, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		comps = append(comps, domain.Component{
			ID:   intVal(m, "component_id"),
			Size: intVal(m, "component_size"),
		})
	}
	return comps, int(intVal(row, "component_count")), nil
}

// Stats returns query counters.
func (a *NetworkAnalyzer) Stats() NetworkStats {
	return NetworkStats{
		PageRankQueries: a.pageRankQueries.Load(),
		WCCQueries:      a.wccQueries.Load(),
		CacheHits:       a.cacheHits.Load(),
	}
}

// Position buckets a PageRank score.
func Position(score float64) string {
	switch {
	case score > highCentrality:
		return "high_centrality"
	case score > mediumCentrality:
		return "medium_centrality"
	default:
		return "low_centrality"
	}
}

// NetworkRisk combines centrality and fragmentation into [0, 1].
func NetworkRisk(pr *domain.PageRankResult, conn *domain.ConnectivityResult) float64 {
	risk := 0.0
	if pr != nil && pr.Score > highCentrality {
		risk += pageRankRisk
	}
	if conn != nil && conn.WCCCount > wccRiskCount {
		risk += connectivityRisk
	}
	return min(risk, 1.0)
}
