package api

import (
	"errors"
	"net/http"

	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

// Score handles POST /score. Absent layers take their neutral value.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.scorer().ScoreMap(req.Scores))
}

// UpdateWeights handles PUT /scoring/weights.
func (h *Handler) UpdateWeights(w http.ResponseWriter, r *http.Request) {
	var req WeightsRequest
	if !h.decode(w, r, &req) {
		return
	}

	weights := domain.ScoringWeights{
		Rules:   req.Rules,
		ML:      req.ML,
		Network: req.Network,
		NLP:     req.NLP,
	}
	if err := h.scorer().UpdateWeights(weights); err != nil {
		if errors.Is(err, scoring.ErrInvalidWeights) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weights": h.scorer().Weights()})
}

// UpdateThresholds handles PUT /scoring/thresholds.
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req ThresholdsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.scorer().UpdateThresholds(req.High, req.Medium); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	high, medium := h.scorer().Thresholds()
	writeJSON(w, http.StatusOK, map[string]float64{"high": high, "medium": medium})
}

// ScoringStats handles GET /scoring/stats.
func (h *Handler) ScoringStats(w http.ResponseWriter, r *http.Request) {
	s := h.scorer()
	high, medium := s.Thresholds()
	thresholds := map[string]float64{"high": high, "medium": medium}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":      s.Stats(),
		"weights":    s.Weights(),
		"thresholds": thresholds,
	})
}

// DetectAmountAnomalies handles POST /anomaly/amounts. The last amount is
// scored against the whole sample.
func (h *Handler) DetectAmountAnomalies(w http.ResponseWriter, r *http.Request) {
	var req AmountsRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  h.detector.AnalyzeAmounts(req.Amounts),
		"zScores": h.detector.ZScores(req.Amounts),
	})
}

// DetectSpikes handles POST /anomaly/spikes.
func (h *Handler) DetectSpikes(w http.ResponseWriter, r *http.Request) {
	var req SpikesRequest
	if !h.decode(w, r, &req) {
		return
	}
	spikes := h.detector.FrequencySpikes(req.Timestamps)
	if spikes == nil {
		spikes = []domain.Spike{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spikes": spikes,
		"count":  len(spikes),
	})
}
