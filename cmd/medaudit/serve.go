package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/medaudit/internal/api"
	"github.com/opensource-finance/medaudit/internal/bus"
	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/worker"
)

var workerConcurrency int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the async evaluation worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&workerConcurrency, "worker-concurrency", worker.DefaultConcurrency, "bills evaluated at once by the async worker")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("starting medaudit",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"graph", cfg.Graph.Enabled,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || cfg.Evaluation.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, a.eval)
		if err := asyncWorker.Start(worker.Config{Concurrency: workerConcurrency}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      a.repo,
		Cache:     a.cache,
		Bus:       busImpl,
		Evaluator: a.eval,
		Catalog:   a.catalog,
		Compiler:  a.compiler,
		Version:   Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("medaudit is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("medaudit shutdown complete")
	return nil
}
