package installment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/cases"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/money"
	"github.com/shopspring/decimal"
)

// maxAttempts bounds compare-and-swap retries per plan mutation.
const maxAttempts = 5

// PlanRequest describes a new payment plan. Fields left empty are filled
// from the linked case when CaseID is set.
type PlanRequest struct {
	CustomerID           string           `json:"customerId"`
	CaseID               string           `json:"caseId,omitempty"`
	Currency             string           `json:"currency"`
	TotalAmount          decimal.Decimal  `json:"totalAmount"`
	DownPayment          decimal.Decimal  `json:"downPayment"`
	NumberOfInstallments int              `json:"numberOfInstallments"`
	Frequency            domain.Frequency `json:"frequency"`
	StartDate            time.Time        `json:"startDate"`
}

// SweepResult reports what a sweep over a tenant's active plans changed.
type SweepResult struct {
	Reviewed  int `json:"reviewed"`
	Updated   int `json:"updated"`
	Defaulted int `json:"defaulted"`
}

// mutation edits loaded copies of a plan and its installments.
type mutation func(plan domain.PaymentPlan, insts []domain.Installment) (domain.PaymentPlan, []domain.Installment, error)

// Service runs plan operations against the store and mirrors plan state
// onto the linked debt case.
type Service struct {
	repo  domain.Repository
	cases *cases.Service
	bus   domain.EventBus
	now   func() time.Time
}

// NewService creates a plan service. caseSvc and eventBus may be nil.
func NewService(repo domain.Repository, caseSvc *cases.Service, eventBus domain.EventBus) *Service {
	return &Service{repo: repo, cases: caseSvc, bus: eventBus, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreatePlan generates the schedule and stores a proposed plan.
func (s *Service) CreatePlan(ctx context.Context, tenantID string, req PlanRequest) (*domain.PaymentPlan, []domain.Installment, error) {
	if req.CaseID != "" {
		c, err := s.repo.GetCase(ctx, tenantID, req.CaseID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load case %s: %w", req.CaseID, err)
		}
		if req.CustomerID == "" {
			req.CustomerID = c.CustomerID
		}
		if req.Currency == "" {
			req.Currency = c.Currency
		}
		if req.TotalAmount.IsZero() {
			req.TotalAmount = c.Outstanding()
		}
	}

	now := s.now().UTC()
	if req.StartDate.IsZero() {
		req.StartDate = now
	}

	schedule, err := Generate(req.TotalAmount, req.DownPayment, req.NumberOfInstallments, req.Frequency, req.StartDate)
	if err != nil {
		return nil, nil, err
	}

	plan := &domain.PaymentPlan{
		ID:                   uuid.New().String(),
		CustomerID:           req.CustomerID,
		CaseID:               req.CaseID,
		Status:               domain.PlanStatusProposed,
		Currency:             strings.ToUpper(req.Currency),
		TotalAmount:          req.TotalAmount,
		DownPayment:          req.DownPayment,
		PaidAmount:           decimal.Zero,
		RemainingAmount:      req.TotalAmount,
		NumberOfInstallments: req.NumberOfInstallments,
		Frequency:            req.Frequency,
		StartDate:            money.Date(req.StartDate),
	}

	rows := make([]*domain.Installment, len(schedule))
	for i := range schedule {
		schedule[i].ID = uuid.New().String()
		rows[i] = &schedule[i]
	}

	if err := s.repo.CreatePlan(ctx, tenantID, plan, rows); err != nil {
		return nil, nil, fmt.Errorf("failed to create plan: %w", err)
	}

	slog.Info("payment plan created",
		"tenant_id", tenantID,
		"plan_id", plan.ID,
		"case_id", plan.CaseID,
		"installments", plan.NumberOfInstallments,
		"frequency", plan.Frequency,
	)
	return plan, schedule, nil
}

// GetPlan returns a plan with installment statuses as of now. Nothing is written.
func (s *Service) GetPlan(ctx context.Context, tenantID, planID string) (*domain.PaymentPlan, []domain.Installment, error) {
	plan, insts, err := s.load(ctx, tenantID, planID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	for i := range insts {
		insts[i].Status = Status(insts[i], now)
	}
	return plan, insts, nil
}

// AcceptPlan activates a proposed plan and moves the case onto it.
func (s *Service) AcceptPlan(ctx context.Context, tenantID, planID string) (*domain.PaymentPlan, error) {
	now := s.now()
	plan, _, err := s.mutate(ctx, tenantID, planID, func(p domain.PaymentPlan, insts []domain.Installment) (domain.PaymentPlan, []domain.Installment, error) {
		for i := range insts {
			insts[i] = RefreshStatus(insts[i], now)
		}
		p, err := Accept(p, insts, now)
		return p, insts, err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payment plan accepted", "tenant_id", tenantID, "plan_id", plan.ID, "case_id", plan.CaseID)

	if plan.DownPayment.IsPositive() {
		s.mirrorPayment(ctx, tenantID, plan, plan.DownPayment)
	}
	s.mirrorStatus(ctx, tenantID, plan, domain.CaseStatusPaymentPlan)
	if plan.Status == domain.PlanStatusCompleted {
		s.mirrorStatus(ctx, tenantID, plan, domain.CaseStatusResolved)
	}
	return plan, nil
}

// CancelPlan withdraws a plan. A case that was on the plan returns to in_progress.
func (s *Service) CancelPlan(ctx context.Context, tenantID, planID string) (*domain.PaymentPlan, error) {
	now := s.now()
	plan, _, err := s.mutate(ctx, tenantID, planID, func(p domain.PaymentPlan, insts []domain.Installment) (domain.PaymentPlan, []domain.Installment, error) {
		p, err := Cancel(p, now)
		return p, insts, err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payment plan cancelled", "tenant_id", tenantID, "plan_id", plan.ID)

	if plan.CaseID != "" && s.cases != nil {
		_, err := s.cases.Update(ctx, tenantID, plan.CaseID, domain.ReasonPlanStatusChanged, func(c *domain.DebtCase) (bool, error) {
			if c.Status != domain.CaseStatusPaymentPlan {
				return false, nil
			}
			return true, c.TransitionTo(domain.CaseStatusInProgress)
		})
		if err != nil {
			slog.Warn("failed to mirror plan cancellation", "tenant_id", tenantID, "case_id", plan.CaseID, "error", err)
		}
	}
	return plan, nil
}

// RecordPayment applies a payment to an active plan. A positive
// installmentNumber targets that installment; otherwise the payment is
// allocated across unpaid installments in order.
func (s *Service) RecordPayment(ctx context.Context, tenantID, planID string, amount decimal.Decimal, installmentNumber int) (*domain.PaymentPlan, []domain.Installment, error) {
	if !amount.IsPositive() {
		return nil, nil, domain.ErrInvalidAmount
	}

	now := s.now()
	plan, insts, err := s.mutate(ctx, tenantID, planID, func(p domain.PaymentPlan, insts []domain.Installment) (domain.PaymentPlan, []domain.Installment, error) {
		if p.Status != domain.PlanStatusActive {
			return p, insts, fmt.Errorf("%w: plan %s is %s", ErrPlanNotActive, p.ID, p.Status)
		}

		var err error
		if installmentNumber > 0 {
			idx := indexOf(insts, installmentNumber)
			if idx < 0 {
				return p, insts, fmt.Errorf("%w: number %d", ErrInstallmentNotFound, installmentNumber)
			}
			insts[idx], err = ApplyPayment(insts[idx], amount, now)
		} else {
			insts, err = Allocate(insts, amount, now)
		}
		if err != nil {
			return p, insts, err
		}

		p, err = ApplyToPlan(p, insts, amount, now)
		return p, insts, err
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Info("plan payment recorded",
		"tenant_id", tenantID,
		"plan_id", plan.ID,
		"amount", amount.String(),
		"remaining", plan.RemainingAmount.String(),
		"status", plan.Status,
	)

	s.mirrorPayment(ctx, tenantID, plan, amount)
	if s.bus != nil {
		event := domain.PaymentEvent{CaseID: plan.CaseID, PlanID: plan.ID, Amount: amount, Currency: plan.Currency, ReceivedAt: now.UTC()}
		if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicPaymentReceived, event); err != nil {
			slog.Warn("failed to publish payment event", "tenant_id", tenantID, "plan_id", plan.ID, "error", err)
		}
	}
	if plan.Status == domain.PlanStatusCompleted {
		slog.Info("payment plan completed", "tenant_id", tenantID, "plan_id", plan.ID)
		s.mirrorStatus(ctx, tenantID, plan, domain.CaseStatusResolved)
	}
	return plan, insts, nil
}

// Overdue lists the plan's unpaid installments that are past due.
func (s *Service) Overdue(ctx context.Context, tenantID, planID string) ([]domain.Installment, error) {
	_, insts, err := s.load(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	return ListOverdue(insts, s.now()), nil
}

// Sweep refreshes installment statuses of every active plan and defaults
// plans with a consecutive overdue run.
func (s *Service) Sweep(ctx context.Context, tenantID string) (SweepResult, error) {
	var result SweepResult

	plans, err := s.repo.ListPlans(ctx, tenantID, domain.PlanStatusActive)
	if err != nil {
		return result, fmt.Errorf("failed to list active plans: %w", err)
	}

	now := s.now()
	for _, p := range plans {
		result.Reviewed++
		var changed bool
		plan, _, err := s.mutate(ctx, tenantID, p.ID, func(p domain.PaymentPlan, insts []domain.Installment) (domain.PaymentPlan, []domain.Installment, error) {
			reviewed, out := Review(p, insts, now)
			changed = planChanged(p, reviewed) || anyInstallmentChanged(insts, out)
			return reviewed, out, nil
		})
		if err != nil {
			slog.Error("failed to review plan", "tenant_id", tenantID, "plan_id", p.ID, "error", err)
			continue
		}
		if changed {
			result.Updated++
		}
		if plan.Status == domain.PlanStatusDefaulted {
			result.Defaulted++
			s.onDefault(ctx, tenantID, plan)
		}
	}
	return result, nil
}

func (s *Service) onDefault(ctx context.Context, tenantID string, plan *domain.PaymentPlan) {
	slog.Warn("payment plan defaulted", "tenant_id", tenantID, "plan_id", plan.ID, "case_id", plan.CaseID)

	s.mirrorStatus(ctx, tenantID, plan, domain.CaseStatusEscalated)
	if s.bus != nil {
		event := domain.PlanDefaultedEvent{PlanID: plan.ID, CaseID: plan.CaseID}
		if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicPlanDefaulted, event); err != nil {
			slog.Warn("failed to publish plan default", "tenant_id", tenantID, "plan_id", plan.ID, "error", err)
		}
	}
}

// mutate loads the plan, applies fn to copies and writes the result under
// the loaded version, retrying on conflict.
func (s *Service) mutate(ctx context.Context, tenantID, planID string, fn mutation) (*domain.PaymentPlan, []domain.Installment, error) {
	for attempt := 1; ; attempt++ {
		plan, insts, err := s.load(ctx, tenantID, planID)
		if err != nil {
			return nil, nil, err
		}

		original := make([]domain.Installment, len(insts))
		copy(original, insts)

		updated, out, err := fn(*plan, insts)
		if err != nil {
			return nil, nil, err
		}
		updated.Version = plan.Version

		changedRows := changedInstallments(original, out)
		if !planChanged(*plan, updated) && len(changedRows) == 0 {
			return &updated, out, nil
		}

		err = s.repo.UpdatePlan(ctx, tenantID, &updated, changedRows)
		if err == nil {
			return &updated, out, nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) || attempt >= maxAttempts {
			return nil, nil, err
		}

		slog.Debug("plan version conflict, retrying",
			"tenant_id", tenantID,
			"plan_id", planID,
			"attempt", attempt,
		)
	}
}

func (s *Service) load(ctx context.Context, tenantID, planID string) (*domain.PaymentPlan, []domain.Installment, error) {
	plan, err := s.repo.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.repo.ListInstallments(ctx, tenantID, planID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load installments: %w", err)
	}
	insts := make([]domain.Installment, len(rows))
	for i, r := range rows {
		insts[i] = *r
	}
	return plan, insts, nil
}

// mirrorPayment credits a plan payment to the linked case, clamped at the case total.
func (s *Service) mirrorPayment(ctx context.Context, tenantID string, plan *domain.PaymentPlan, amount decimal.Decimal) {
	if plan.CaseID == "" || s.cases == nil {
		return
	}
	_, err := s.cases.Update(ctx, tenantID, plan.CaseID, domain.ReasonPaymentReceived, func(c *domain.DebtCase) (bool, error) {
		applied, err := c.ApplyPayment(amount)
		if err != nil {
			return false, err
		}
		return applied.IsPositive(), nil
	})
	if err != nil {
		slog.Warn("failed to mirror plan payment", "tenant_id", tenantID, "case_id", plan.CaseID, "error", err)
	}
}

func (s *Service) mirrorStatus(ctx context.Context, tenantID string, plan *domain.PaymentPlan, status domain.CaseStatus) {
	if plan.CaseID == "" || s.cases == nil {
		return
	}
	_, err := s.cases.SetStatus(ctx, tenantID, plan.CaseID, status, domain.ReasonPlanStatusChanged)
	if errors.Is(err, domain.ErrInvalidTransition) {
		slog.Info("case status not mirrored",
			"tenant_id", tenantID,
			"case_id", plan.CaseID,
			"status", status,
			"reason", err.Error(),
		)
		return
	}
	if err != nil {
		slog.Warn("failed to mirror plan status", "tenant_id", tenantID, "case_id", plan.CaseID, "error", err)
	}
}

func indexOf(insts []domain.Installment, number int) int {
	for i := range insts {
		if insts[i].Number == number {
			return i
		}
	}
	return -1
}

func planChanged(a, b domain.PaymentPlan) bool {
	return a.Status != b.Status ||
		!a.PaidAmount.Equal(b.PaidAmount) ||
		!a.RemainingAmount.Equal(b.RemainingAmount) ||
		timeChanged(a.AcceptedAt, b.AcceptedAt) ||
		timeChanged(a.CompletedAt, b.CompletedAt) ||
		timeChanged(a.DefaultedAt, b.DefaultedAt) ||
		timeChanged(a.CancelledAt, b.CancelledAt)
}

// changedInstallments returns pointers to the rows of updated that differ from original.
func changedInstallments(original, updated []domain.Installment) []*domain.Installment {
	before := make(map[int]domain.Installment, len(original))
	for _, inst := range original {
		before[inst.Number] = inst
	}

	var out []*domain.Installment
	for i := range updated {
		prev, ok := before[updated[i].Number]
		if !ok || installmentChanged(prev, updated[i]) {
			out = append(out, &updated[i])
		}
	}
	return out
}

func anyInstallmentChanged(original, updated []domain.Installment) bool {
	return len(changedInstallments(original, updated)) > 0
}

func installmentChanged(a, b domain.Installment) bool {
	return a.Status != b.Status ||
		!a.PaidAmount.Equal(b.PaidAmount) ||
		timeChanged(a.PaidAt, b.PaidAt)
}

func timeChanged(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a != b
	}
	return !a.Equal(*b)
}
