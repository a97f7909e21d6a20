package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/medaudit/internal/cache"
	"github.com/opensource-finance/medaudit/internal/catalog"
	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/evaluator"
	"github.com/opensource-finance/medaudit/internal/graph"
	"github.com/opensource-finance/medaudit/internal/history"
	"github.com/opensource-finance/medaudit/internal/legality"
	"github.com/opensource-finance/medaudit/internal/ml"
	"github.com/opensource-finance/medaudit/internal/repository"
	"github.com/opensource-finance/medaudit/internal/rules"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

// app holds the components shared by every command.
type app struct {
	repo     domain.Repository
	cache    domain.Cache
	catalog  *catalog.Catalog
	compiler *rules.Compiler
	eval     *evaluator.Service
	graph    *graph.Client
}

// buildApp wires storage, the rule chain and every scoring layer. A graph
// connection failure is logged and the graph layers are left out.
func buildApp(ctx context.Context, cfg *domain.Config) (*app, error) {
	a := &app{}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("initialize repository: %w", err)
	}
	a.repo = repo
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	c, err := cache.New(cfg.Cache)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	a.cache = c
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	a.catalog = catalog.New(repo, c, cfg.Evaluation.CatalogCacheTTL)

	a.compiler, err = rules.NewCompiler()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	chain := rules.NewDefaultChain()
	loadRulesFromDatabase(ctx, repo, a.compiler, chain)

	scorer, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initialize scoring: %w", err)
	}

	model, err := ml.NewEnsembleFromConfig(cfg.ML)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("load models: %w", err)
	}
	supervised, unsupervised := model.Trained()
	slog.Info("models loaded", "classifier", supervised, "outlier", unsupervised)

	opts := []evaluator.Option{
		evaluator.WithHistory(history.NewService(repo, cfg.Evaluation.HistoryLookbackDays)),
		evaluator.WithCatalog(a.catalog),
		evaluator.WithModel(model),
		evaluator.WithLegality(legality.NewAnalyzer(a.catalog, cfg.Legality)),
		evaluator.WithBatchSize(cfg.Evaluation.BatchSize),
	}

	if cfg.Graph.Enabled {
		client, err := graph.Connect(ctx, cfg.Graph)
		if err != nil {
			slog.Warn("graph database unavailable, continuing without network analysis", "error", err)
		} else {
			a.graph = client
			opts = append(opts,
				evaluator.WithEnricher(graph.NewEnricher(client)),
				evaluator.WithNetwork(graph.NewNetworkAnalyzer(client, c, cfg.Graph.CacheTTL)),
			)
			slog.Info("graph enrichment enabled", "uri", cfg.Graph.URI)
		}
	}

	a.eval = evaluator.New(repo, chain, scorer, opts...)
	slog.Info("rule chain initialized", "rules_count", len(chain.Rules()))
	return a, nil
}

// Close releases whatever buildApp opened.
func (a *app) Close(ctx context.Context) {
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			slog.Warn("failed to close graph driver", "error", err)
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// loadRulesFromDatabase adds the stored expression rules to the chain. A
// failure leaves only the built-in rules.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, compiler *rules.Compiler, chain *rules.Chain) {
	configs, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return
	}
	if len(configs) == 0 {
		slog.Info("no expression rules in database - configure via POST /rules API")
		return
	}
	n, err := rules.LoadExpressions(chain, compiler, configs)
	if err != nil {
		slog.Warn("failed to compile stored rules", "error", err)
		return
	}
	slog.Info("loaded expression rules from database", "count", n)
}
