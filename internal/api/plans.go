package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/installment"
	"github.com/shopspring/decimal"
)

// CreatePlanRequest is the request body for POST /plans. With a caseId the
// customer, currency and total default to the case's outstanding debt.
type CreatePlanRequest struct {
	CustomerID           string           `json:"customerId"`
	CaseID               string           `json:"caseId,omitempty"`
	Currency             string           `json:"currency"`
	TotalAmount          decimal.Decimal  `json:"totalAmount"`
	DownPayment          decimal.Decimal  `json:"downPayment"`
	NumberOfInstallments int              `json:"numberOfInstallments"`
	Frequency            domain.Frequency `json:"frequency"`
	StartDate            string           `json:"startDate,omitempty"`
}

// planResponse pairs a plan with its schedule.
type planResponse struct {
	Plan         *domain.PaymentPlan  `json:"plan"`
	Installments []domain.Installment `json:"installments"`
}

// CreatePlan proposes a new installment plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var start time.Time
	if req.StartDate != "" {
		t, err := parseDate(req.StartDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "startDate must be YYYY-MM-DD or RFC 3339",
			})
			return
		}
		start = t
	}

	plan, insts, err := h.svc.Plans.CreatePlan(ctx, GetTenantID(ctx), installment.PlanRequest{
		CustomerID:           req.CustomerID,
		CaseID:               req.CaseID,
		Currency:             req.Currency,
		TotalAmount:          req.TotalAmount,
		DownPayment:          req.DownPayment,
		NumberOfInstallments: req.NumberOfInstallments,
		Frequency:            req.Frequency,
		StartDate:            start,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, planResponse{Plan: plan, Installments: insts})
}

// GetPlan retrieves a plan and its schedule.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plan, insts, err := h.svc.Plans.GetPlan(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{Plan: plan, Installments: insts})
}

// AcceptPlan activates a proposed plan.
func (h *Handler) AcceptPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plan, err := h.svc.Plans.AcceptPlan(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// CancelPlan cancels a proposed or active plan.
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plan, err := h.svc.Plans.CancelPlan(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// RecordPlanPayment applies a payment to an active plan. Without an
// installmentNumber the amount is allocated oldest installment first.
func (h *Handler) RecordPlanPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	plan, insts, err := h.svc.Plans.RecordPayment(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Amount, req.InstallmentNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{Plan: plan, Installments: insts})
}

// ListInstallments returns a plan's schedule.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, insts, err := h.svc.Plans.GetPlan(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"installments": insts,
		"count":        len(insts),
	})
}

// ListOverdueInstallments returns the plan's unpaid installments past due.
func (h *Handler) ListOverdueInstallments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	insts, err := h.svc.Plans.Overdue(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if insts == nil {
		insts = []domain.Installment{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"installments": insts,
		"count":        len(insts),
	})
}
