package api

import (
	"log/slog"
	"net/http"

	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/rules"
)

// RuleView describes one rule in the running chain.
type RuleView struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Priority   int                `json:"priority"`
	Critical   bool               `json:"critical"`
	Fatal      bool               `json:"fatal"`
	Expression bool               `json:"expression"`
	Config     *domain.RuleConfig `json:"config,omitempty"`
}

// ListRules handles GET /rules, returning the chain in execution order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.eval.Chain().Rules()
	views := make([]RuleView, 0, len(loaded))
	for _, rule := range loaded {
		v := RuleView{
			ID:       rule.ID(),
			Name:     rule.Name(),
			Priority: rule.Priority(),
			Critical: rule.IsCritical(),
			Fatal:    rule.IsFatal(),
		}
		if er, ok := rule.(*rules.ExpressionRule); ok {
			v.Expression = true
			v.Config = er.Config()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": views,
		"count": len(views),
	})
}

// CreateRule handles POST /rules. The expression is compiled before it is
// stored; POST /rules/reload applies stored rules to the chain.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Priority:    req.Priority,
		Weight:      req.Weight,
		Critical:    req.Critical,
		Fatal:       req.Fatal,
		Enabled:     req.Enabled,
	}
	if cfg.Priority == 0 {
		cfg.Priority = rules.DefaultExpressionPriority
	}

	if err := h.compiler.Validate(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}
	if err := h.repo.SaveRuleConfig(r.Context(), cfg); err != nil {
		slog.Error("failed to save rule config", "rule_id", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "rule_id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules handles POST /rules/reload.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	n, err := rules.LoadExpressions(h.eval.Chain(), h.compiler, configs)
	if err != nil {
		slog.Error("failed to reload rules into chain", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
		"total":   len(h.eval.Chain().Rules()),
	})
}
