package evaluator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/metrics"
)

// BatchFailure records one claim a batch could not evaluate.
type BatchFailure struct {
	ClaimID string `json:"claimId"`
	Error   string `json:"error"`
}

// BatchSummary reports how much of a batch completed.
type BatchSummary struct {
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// BatchEvaluate evaluates claims in consecutive batches of batchSize, each
// batch running concurrently. A failed claim is logged and left out of the
// results; the rest of the batch continues. Results keep input order.
// batchSize <= 0 uses the service default.
func (s *Service) BatchEvaluate(ctx context.Context, claimIDs []string, batchSize int) ([]*domain.EvaluationResult, BatchSummary) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	total := len(claimIDs)
	summary := BatchSummary{Total: total}
	results := make([]*domain.EvaluationResult, 0, total)
	batches := (total + batchSize - 1) / batchSize

	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		batch := claimIDs[start:end]

		if err := ctx.Err(); err != nil {
			for _, id := range claimIDs[start:] {
				summary.Failures = append(summary.Failures, BatchFailure{ClaimID: id, Error: err.Error()})
			}
			metrics.BatchEvaluationsTotal.WithLabelValues("failed").Add(float64(total - start))
			break
		}

		slog.InfoContext(ctx, "Processing batch",
			"batch", start/batchSize+1,
			"batches", batches,
			"size", len(batch),
		)

		out := make([]*domain.EvaluationResult, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, id := range batch {
			wg.Add(1)
			go func(idx int, claimID string) {
				defer wg.Done()
				out[idx], errs[idx] = s.EvaluateBill(ctx, claimID)
			}(i, id)
		}
		wg.Wait()

		for i, res := range out {
			if errs[i] != nil {
				slog.ErrorContext(ctx, "batch evaluation failed for bill",
					"claim_id", batch[i],
					"error", errs[i],
				)
				summary.Failures = append(summary.Failures, BatchFailure{ClaimID: batch[i], Error: errs[i].Error()})
				metrics.BatchEvaluationsTotal.WithLabelValues("failed").Inc()
				continue
			}
			results = append(results, res)
			metrics.BatchEvaluationsTotal.WithLabelValues("processed").Inc()
		}
	}

	summary.Processed = len(results)
	slog.InfoContext(ctx, "batch evaluation complete",
		"processed", summary.Processed,
		"total", total,
	)
	return results, summary
}
