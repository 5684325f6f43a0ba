package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/rules"
)

// RuleRequest is the request body for creating or replacing a rule.
// Omitted priority appends the rule after every existing one; omitted
// active defaults to true on create and keeps the stored value on update.
type RuleRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Conditions  domain.ConditionSet `json:"conditions"`
	Actions     []domain.Action     `json:"actions"`
	Priority    *int                `json:"priority,omitempty"`
	Active      *bool               `json:"active,omitempty"`
}

// ListRules lists the tenant's rules in firing order. ?active=true hides
// deactivated rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := h.repo.ListRules(ctx, GetTenantID(ctx), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.EscalationRule{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rule, err := h.repo.GetRule(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule := &domain.EscalationRule{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Active:      true,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	} else {
		next, err := h.nextPriority(r, tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		rule.Priority = next
	}

	if !h.saveRule(w, r, tenantID, rule) {
		return
	}

	slog.Info("rule created", "tenant_id", tenantID, "rule_id", rule.ID, "priority", rule.Priority)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule's definition. Execution counters are kept.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rule, err := h.repo.GetRule(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule.Name = req.Name
	rule.Description = req.Description
	rule.Conditions = req.Conditions
	rule.Actions = req.Actions
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if !h.saveRule(w, r, tenantID, rule) {
		return
	}

	slog.Info("rule updated", "tenant_id", tenantID, "rule_id", rule.ID)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule deactivates a rule. Its execution history stays intact.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeactivateRule(ctx, tenantID, ruleID); err != nil {
		writeError(w, err)
		return
	}
	h.svc.Engine.Invalidate(ctx, tenantID)

	slog.Info("rule deactivated", "tenant_id", tenantID, "rule_id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      ruleID,
		"message": "rule deactivated",
	})
}

// ReorderRequest is the request body for POST /rules/{id}/reorder.
type ReorderRequest struct {
	Priority *int `json:"priority"`
}

// ReorderRule moves a rule to a new priority, shifting the rules at or
// after that position down by one.
func (h *Handler) ReorderRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	var req ReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Priority == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "priority is required",
		})
		return
	}

	all, err := h.repo.ListRules(ctx, tenantID, false)
	if err != nil {
		writeError(w, err)
		return
	}
	changes, err := rules.PlanReorder(all, ruleID, *req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(changes) > 0 {
		if err := h.repo.ApplyReorder(ctx, tenantID, changes); err != nil {
			writeError(w, err)
			return
		}
		h.svc.Engine.Invalidate(ctx, tenantID)
	}
	if changes == nil {
		changes = []domain.ReorderChange{}
	}

	slog.Info("rules reordered",
		"tenant_id", tenantID,
		"rule_id", ruleID,
		"priority", *req.Priority,
		"changed", len(changes),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changes": changes,
	})
}

// saveRule validates, stores and invalidates the tenant's rule snapshot,
// writing the error response itself on failure.
func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, tenantID string, rule *domain.EscalationRule) bool {
	ctx := r.Context()

	if err := h.svc.Engine.ValidateRule(rule); err != nil {
		writeError(w, err)
		return false
	}
	if err := h.repo.SaveRule(ctx, tenantID, rule); err != nil {
		writeError(w, err)
		return false
	}
	h.svc.Engine.Invalidate(ctx, tenantID)
	return true
}

func (h *Handler) nextPriority(r *http.Request, tenantID string) (int, error) {
	all, err := h.repo.ListRules(r.Context(), tenantID, false)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, rule := range all {
		if rule.Priority >= next {
			next = rule.Priority + 1
		}
	}
	return next, nil
}
