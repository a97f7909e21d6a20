// Package metrics provides Prometheus instrumentation for medaudit.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medaudit"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EvaluationsTotal counts completed bill evaluations by chain decision.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total bill evaluations by final decision.",
		},
		[]string{"decision"},
	)

	// RuleOutcomesTotal counts rule results by rule and outcome.
	RuleOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_outcomes_total",
			Help:      "Total rule results by rule ID and outcome.",
		},
		[]string{"rule_id", "outcome"}, // "passed", "failed", "skipped"
	)

	// RuleDuration observes per-rule execution time.
	RuleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_duration_seconds",
			Help:      "Rule execution time in seconds.",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"rule_id"},
	)

	// RiskLevelsTotal counts composite scores by risk level.
	RiskLevelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_levels_total",
			Help:      "Total composite risk scores by level.",
		},
		[]string{"level"},
	)

	// BatchEvaluationsTotal counts per-claim batch outcomes.
	BatchEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_evaluations_total",
			Help:      "Total claims processed in batch evaluations by result.",
		},
		[]string{"result"}, // "processed", "failed"
	)

	// CollaboratorFailuresTotal counts degraded calls to enrichment and scoring collaborators.
	CollaboratorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Total collaborator failures that degraded an evaluation.",
		},
		[]string{"collaborator"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EvaluationsTotal,
		RuleOutcomesTotal,
		RuleDuration,
		RiskLevelsTotal,
		BatchEvaluationsTotal,
		CollaboratorFailuresTotal,
	)
}

// ObserveRule records one rule result.
func ObserveRule(ruleID, outcome string, executionMs float64) {
	RuleOutcomesTotal.WithLabelValues(ruleID, outcome).Inc()
	RuleDuration.WithLabelValues(ruleID).Observe(executionMs / 1000)
}

// CollaboratorFailed records a degraded collaborator call.
func CollaboratorFailed(name string) {
	CollaboratorFailuresTotal.WithLabelValues(name).Inc()
}

// Middleware records request metrics under the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path, keeps label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into classes.
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
