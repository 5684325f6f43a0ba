package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kite/internal/cases"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/installment"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/telephony"
	"github.com/opensource-finance/kite/internal/tracker"
	"github.com/opensource-finance/kite/internal/worker"
	"github.com/shopspring/decimal"
)

// Services groups the application services the handlers call into.
type Services struct {
	Cases      *cases.Service
	Plans      *installment.Service
	Engine     *rules.Engine
	Pipeline   *worker.Pipeline
	Tracker    *tracker.Tracker
	Reconciler *telephony.Reconciler
	Verifier   *telephony.Verifier
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	svc     Services
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, svc Services, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		svc:     svc,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// CASE HANDLERS
// ============================================================================

// CreateCaseRequest is the request body for POST /cases.
type CreateCaseRequest struct {
	InvoiceID     string          `json:"invoiceId"`
	CustomerID    string          `json:"customerId"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	Priority      domain.Priority `json:"priority,omitempty"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Currency      string          `json:"currency"`
	DueDate       string          `json:"dueDate"`
	Notes         string          `json:"notes,omitempty"`
}

// CreateCase opens a new debt case.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customerId is required",
		})
		return
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "dueDate must be YYYY-MM-DD or RFC 3339",
		})
		return
	}

	c := &domain.DebtCase{
		InvoiceID:     req.InvoiceID,
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Priority:      req.Priority,
		TotalAmount:   req.TotalAmount,
		PaidAmount:    req.PaidAmount,
		Currency:      req.Currency,
		DueDate:       dueDate,
		Notes:         req.Notes,
	}
	if err := h.svc.Cases.Create(ctx, tenantID, c); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// ListCases lists cases filtered by status, customerId, openOnly and limit.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	q := r.URL.Query()

	filter := domain.CaseFilter{
		Status:     domain.CaseStatus(q.Get("status")),
		CustomerID: q.Get("customerId"),
		OpenOnly:   q.Get("openOnly") == "true",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown status %q", filter.Status),
		})
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	filter.Limit = limit

	list, err := h.repo.ListCases(ctx, tenantID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.DebtCase{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": list,
		"count": len(list),
	})
}

// GetCase retrieves a case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := h.repo.GetCase(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateStatusRequest is the request body for PATCH /cases/{id}/status.
type UpdateStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
}

// UpdateCaseStatus moves a case through its workflow.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown status %q", req.Status),
		})
		return
	}

	c, err := h.svc.Cases.SetStatus(ctx, tenantID, chi.URLParam(r, "id"), req.Status, domain.ReasonStatusChanged)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ReopenCase returns a closed or written-off case to collection.
func (h *Handler) ReopenCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := h.svc.Cases.Reopen(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PaymentRequest is the request body for payment endpoints.
type PaymentRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	InstallmentNumber int             `json:"installmentNumber,omitempty"`
}

// RecordCasePayment applies a payment against a case's outstanding balance.
func (h *Handler) RecordCasePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, applied, err := h.svc.Cases.RecordPayment(ctx, tenantID, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"case":    c,
		"applied": applied,
	})
}

// EvaluateCase runs the escalation pipeline for one case synchronously.
func (h *Handler) EvaluateCase(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	execs, err := h.svc.Pipeline.Evaluate(ctx, tenantID, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	if execs == nil {
		execs = []*domain.RuleExecution{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"caseId":     caseID,
		"executions": execs,
		"count":      len(execs),
		"metadata": map[string]interface{}{
			"traceId": GetTraceID(ctx),
			"totalMs": time.Since(start).Milliseconds(),
			"version": h.version,
		},
	})
}

// ListCaseCalls lists the voice calls placed for a case.
func (h *Handler) ListCaseCalls(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	if _, err := h.repo.GetCase(ctx, tenantID, caseID); err != nil {
		writeError(w, err)
		return
	}
	calls, err := h.repo.ListCallsByCase(ctx, tenantID, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	if calls == nil {
		calls = []*domain.Call{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"count": len(calls),
	})
}

// ============================================================================
// EXECUTION HANDLERS
// ============================================================================

// ListExecutions returns the audit trail filtered by ruleId, caseId and limit.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, ok := executionFilter(w, r)
	if !ok {
		return
	}
	execs, err := h.repo.ListExecutions(ctx, GetTenantID(ctx), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if execs == nil {
		execs = []*domain.RuleExecution{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// ExecutionSummary aggregates execution results.
func (h *Handler) ExecutionSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, ok := executionFilter(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Tracker.Summary(ctx, GetTenantID(ctx), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func executionFilter(w http.ResponseWriter, r *http.Request) (domain.ExecutionFilter, bool) {
	q := r.URL.Query()
	filter := domain.ExecutionFilter{
		RuleID: q.Get("ruleId"),
		CaseID: q.Get("caseId"),
	}
	if since := q.Get("since"); since != "" {
		t, err := parseDate(since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be YYYY-MM-DD or RFC 3339",
			})
			return filter, false
		}
		filter.Since = t
	}
	limit, ok := queryInt(w, r, "limit")
	filter.Limit = limit
	return filter, ok
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to HTTP status codes. Anything unmapped is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrDuplicate):
		status = http.StatusConflict
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": name + " must be a non-negative integer",
		})
		return 0, false
	}
	return n, true
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
