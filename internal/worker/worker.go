// Package worker evaluates submitted bills asynchronously from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/medaudit/internal/bus"
	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

// DefaultConcurrency bounds in-flight evaluations per worker.
const DefaultConcurrency = 4

// Evaluator runs the full evaluation pipeline for a stored bill.
type Evaluator interface {
	EvaluateBill(ctx context.Context, claimID string) (*domain.EvaluationResult, error)
}

// SubmitMessage is the payload published on TopicBillSubmitted.
type SubmitMessage struct {
	ClaimID string `json:"claimId"`
	TraceID string `json:"traceId,omitempty"`
}

// AlertMessage is the payload published on TopicAlert.
type AlertMessage struct {
	ClaimID      string           `json:"claimId"`
	EvaluationID string           `json:"evaluationId"`
	Decision     domain.Decision  `json:"decision"`
	RiskLevel    domain.RiskLevel `json:"riskLevel"`
	FraudScore   float64          `json:"fraudScore"`
	TraceID      string           `json:"traceId,omitempty"`
}

// Config holds worker configuration.
type Config struct {
	// Concurrency is the number of bills evaluated at once.
	Concurrency int
}

// Worker consumes bill submissions and publishes evaluation outcomes.
type Worker struct {
	bus       domain.EventBus
	evaluator Evaluator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, evaluator Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		evaluator: evaluator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to bill submissions.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.subscriptions) > 0 {
		return errors.New("worker already started")
	}

	w.sem = make(chan struct{}, cfg.Concurrency)
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBillSubmitted, w.dispatch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicBillSubmitted, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicBillSubmitted,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// dispatch hands the message to a goroutine once a slot is free, so a slow
// evaluation does not hold up the subscription. The evaluation runs on the
// worker context, which Stop cancels only after in-flight work drains.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()
		_ = w.process(w.ctx, msg)
	}()
	return nil
}

// process evaluates one submitted bill and publishes the outcome.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var sm SubmitMessage
	if err := json.Unmarshal(msg.Payload, &sm); err != nil {
		slog.Error("failed to parse bill submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if sm.ClaimID == "" {
		slog.Error("bill submission without claim id", "message_id", msg.ID)
		return errors.New("claimId is required")
	}

	traceID := sm.TraceID
	if traceID == "" {
		traceID = msg.Metadata[bus.MetaTraceID]
	}
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing bill",
		"claim_id", sm.ClaimID,
		"trace_id", traceID,
	)

	result, err := w.evaluator.EvaluateBill(ctx, sm.ClaimID)
	if err != nil {
		slog.Error("bill evaluation failed",
			"claim_id", sm.ClaimID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}
	if result.TraceID == "" {
		result.TraceID = traceID
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	if err := w.bus.Publish(ctx, domain.TopicBillEvaluated, payload); err != nil {
		slog.Error("failed to publish evaluation",
			"claim_id", sm.ClaimID,
			"error", err,
		)
	}

	if result.Risk != nil && scoring.ShouldAlert(*result.Risk, result.Chain.FinalDecision) {
		alert, _ := json.Marshal(AlertMessage{
			ClaimID:      result.ClaimID,
			EvaluationID: result.ID,
			Decision:     result.Chain.FinalDecision,
			RiskLevel:    result.Risk.RiskLevel,
			FraudScore:   result.Risk.FinalFraudScore,
			TraceID:      result.TraceID,
		})
		if err := w.bus.Publish(ctx, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"claim_id", sm.ClaimID,
				"error", err,
			)
		}
	}

	slog.Info("bill processed",
		"claim_id", sm.ClaimID,
		"trace_id", result.TraceID,
		"decision", result.Chain.FinalDecision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight evaluations to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
