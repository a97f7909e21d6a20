// Package api exposes the HTTP interface: bill submission and evaluation,
// the billing code catalog, scoring configuration, anomaly detection and
// expression rule management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/medaudit/internal/anomaly"
	"github.com/opensource-finance/medaudit/internal/catalog"
	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/evaluator"
	"github.com/opensource-finance/medaudit/internal/rules"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

// Deps are the collaborators the handlers use. Cache and Bus are optional.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Evaluator *evaluator.Service
	Catalog   *catalog.Catalog
	Compiler  *rules.Compiler
	Detector  *anomaly.Detector
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	eval     *evaluator.Service
	catalog  *catalog.Catalog
	compiler *rules.Compiler
	detector *anomaly.Detector
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		eval:     deps.Evaluator,
		catalog:  deps.Catalog,
		compiler: deps.Compiler,
		detector: deps.Detector,
		validate: newValidator(),
		version:  deps.Version,
	}
	if h.catalog == nil && h.repo != nil {
		h.catalog = catalog.New(h.repo, h.cache, 0)
	}
	if h.detector == nil {
		h.detector = anomaly.NewDetector()
	}
	return h
}

func (h *Handler) scorer() *scoring.Engine {
	return h.eval.Scorer()
}

// Health reports liveness and the state of the storage backends.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string)

	probe := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		probe("repository", h.repo.Ping)
	}
	if h.cache != nil {
		probe("cache", h.cache.Ping)
	}
	if h.bus != nil {
		probe("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns 503 until the repository answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.eval == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// Stats returns engine and scoring counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":  h.eval.Stats(),
		"scoring": h.scorer().Stats(),
		"rules":   len(h.eval.Chain().Rules()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLookupError maps not-found to 404 and everything else to 500.
func writeLookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("lookup failed", "what", what, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}
