package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/repository"
	"github.com/opensource-finance/medaudit/internal/worker"
)

// SubmitBill handles POST /bills.
func (h *Handler) SubmitBill(w http.ResponseWriter, r *http.Request) {
	var req BillRequest
	if !h.decode(w, r, &req) {
		return
	}

	bill := req.Bill()
	if err := h.repo.SaveBill(r.Context(), bill); err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to save bill", "claim_id", req.ClaimID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save bill")
		return
	}

	slog.Info("bill submitted", "claim_id", bill.ClaimID, "bill_id", bill.ID)
	writeJSON(w, http.StatusCreated, bill)
}

// GetBill handles GET /bills/{claimID}.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.repo.GetBillByClaimID(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		writeLookupError(w, "bill", err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// EvaluateBill handles POST /bills/{claimID}/evaluate. With ?async=true the
// bill is queued for the worker and 202 is returned.
func (h *Handler) EvaluateBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claimID := chi.URLParam(r, "claimID")
	traceID := GetTraceID(ctx)

	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "asynchronous evaluation not available")
			return
		}
		if _, err := h.repo.GetBillByClaimID(ctx, claimID); err != nil {
			writeLookupError(w, "bill", err)
			return
		}

		payload, _ := json.Marshal(worker.SubmitMessage{ClaimID: claimID, TraceID: traceID})
		if err := h.bus.Publish(ctx, domain.TopicBillSubmitted, payload); err != nil {
			slog.Error("failed to queue bill", "claim_id", claimID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue bill")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"claimId": claimID,
			"traceId": traceID,
			"status":  "queued",
		})
		return
	}

	res, err := h.eval.EvaluateBill(ctx, claimID)
	if err != nil {
		writeLookupError(w, "bill", err)
		return
	}
	if res.TraceID == "" {
		res.TraceID = traceID
	}
	writeJSON(w, http.StatusOK, res)
}

// ListComplianceChecks handles GET /bills/{claimID}/compliance-checks.
func (h *Handler) ListComplianceChecks(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claimID")
	checks, err := h.repo.ListComplianceChecks(r.Context(), claimID)
	if err != nil {
		writeLookupError(w, "compliance checks", err)
		return
	}
	if checks == nil {
		checks = []*domain.ComplianceCheck{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claimId": claimID,
		"checks":  checks,
		"count":   len(checks),
	})
}

// BatchEvaluate handles POST /evaluations/batch.
func (h *Handler) BatchEvaluate(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, summary := h.eval.BatchEvaluate(r.Context(), req.ClaimIDs, req.BatchSize)
	if results == nil {
		results = []*domain.EvaluationResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": summary,
	})
}

// GetEvaluation handles GET /evaluations/{id}.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := h.repo.GetEvaluation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLookupError(w, "evaluation", err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// SaveBillingCode handles POST /billing-codes.
func (h *Handler) SaveBillingCode(w http.ResponseWriter, r *http.Request) {
	var req BillingCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	bc := &domain.BillingCode{
		Code:        strings.TrimSpace(req.Code),
		CodeType:    domain.CodeType(req.CodeType),
		Description: req.Description,
		Status:      req.Status,
	}
	if err := h.catalog.Save(r.Context(), bc); err != nil {
		slog.Error("failed to save billing code", "code", bc.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save billing code")
		return
	}
	writeJSON(w, http.StatusCreated, bc)
}

// GetBillingCode handles GET /billing-codes/{code}.
func (h *Handler) GetBillingCode(w http.ResponseWriter, r *http.Request) {
	bc, err := h.catalog.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeLookupError(w, "billing code", err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}
