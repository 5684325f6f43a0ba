package installment

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/money"
	"github.com/shopspring/decimal"
)

// defaultRun is the number of consecutive overdue installments that defaults a plan.
const defaultRun = 2

// Status derives an installment's status from what has been paid and the
// calendar day of now. Paid wins over overdue.
func Status(inst domain.Installment, now time.Time) domain.InstallmentStatus {
	switch {
	case inst.PaidAmount.GreaterThanOrEqual(inst.Amount):
		return domain.InstallmentPaid
	case money.Before(inst.DueDate, now):
		return domain.InstallmentOverdue
	case inst.PaidAmount.IsPositive():
		return domain.InstallmentPartial
	default:
		return domain.InstallmentPending
	}
}

// RefreshStatus recomputes the status and stamps paid_at on the transition to paid.
func RefreshStatus(inst domain.Installment, now time.Time) domain.Installment {
	inst.Status = Status(inst, now)
	if inst.Status == domain.InstallmentPaid && inst.PaidAt == nil {
		t := now.UTC()
		inst.PaidAt = &t
	}
	return inst
}

// ApplyPayment adds amount to the installment. Overpayment is kept as paid.
func ApplyPayment(inst domain.Installment, amount decimal.Decimal, now time.Time) (domain.Installment, error) {
	if !amount.IsPositive() {
		return inst, domain.ErrInvalidAmount
	}
	inst.PaidAmount = inst.PaidAmount.Add(amount)
	return RefreshStatus(inst, now), nil
}

// Allocate spreads amount over unpaid installments in number order. Anything
// left after every installment is covered lands on the last installment.
func Allocate(installments []domain.Installment, amount decimal.Decimal, now time.Time) ([]domain.Installment, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if len(installments) == 0 {
		return nil, ErrInstallmentNotFound
	}

	out := byNumber(installments)
	left := amount
	for i := range out {
		if !left.IsPositive() {
			break
		}
		due := out[i].Due()
		if !due.IsPositive() {
			continue
		}
		pay := money.Min(due, left)
		out[i], _ = ApplyPayment(out[i], pay, now)
		left = left.Sub(pay)
	}
	if left.IsPositive() {
		last := len(out) - 1
		out[last], _ = ApplyPayment(out[last], left, now)
	}
	return out, nil
}

// ApplyToPlan credits amount to an active plan. installments must already
// reflect the payment; the plan completes once all of them are paid.
func ApplyToPlan(plan domain.PaymentPlan, installments []domain.Installment, amount decimal.Decimal, now time.Time) (domain.PaymentPlan, error) {
	if plan.Status != domain.PlanStatusActive {
		return plan, fmt.Errorf("%w: plan %s is %s", ErrPlanNotActive, plan.ID, plan.Status)
	}
	if !amount.IsPositive() {
		return plan, domain.ErrInvalidAmount
	}

	plan.PaidAmount = plan.PaidAmount.Add(amount)
	plan.RemainingAmount = plan.TotalAmount.Sub(plan.PaidAmount)
	return completeIfPaid(plan, installments, now), nil
}

// DetectDefault reports whether two installments adjacent by number are both overdue.
func DetectDefault(installments []domain.Installment) bool {
	run := 0
	for _, inst := range byNumber(installments) {
		if inst.Status != domain.InstallmentOverdue {
			run = 0
			continue
		}
		run++
		if run >= defaultRun {
			return true
		}
	}
	return false
}

// ListOverdue returns the unpaid installments due before today.
func ListOverdue(installments []domain.Installment, now time.Time) []domain.Installment {
	var out []domain.Installment
	for _, inst := range byNumber(installments) {
		if Status(inst, now) == domain.InstallmentOverdue {
			inst.Status = domain.InstallmentOverdue
			out = append(out, inst)
		}
	}
	return out
}

// Accept activates a proposed plan and credits the down payment.
func Accept(plan domain.PaymentPlan, installments []domain.Installment, now time.Time) (domain.PaymentPlan, error) {
	if plan.Status != domain.PlanStatusProposed {
		return plan, fmt.Errorf("%w: cannot accept plan in status %s", domain.ErrInvalidTransition, plan.Status)
	}
	t := now.UTC()
	plan.Status = domain.PlanStatusActive
	plan.AcceptedAt = &t
	plan.PaidAmount = plan.PaidAmount.Add(plan.DownPayment)
	plan.RemainingAmount = plan.TotalAmount.Sub(plan.PaidAmount)
	return completeIfPaid(plan, installments, now), nil
}

// Cancel withdraws a proposed or active plan.
func Cancel(plan domain.PaymentPlan, now time.Time) (domain.PaymentPlan, error) {
	if plan.Status != domain.PlanStatusProposed && plan.Status != domain.PlanStatusActive {
		return plan, fmt.Errorf("%w: cannot cancel plan in status %s", domain.ErrInvalidTransition, plan.Status)
	}
	t := now.UTC()
	plan.Status = domain.PlanStatusCancelled
	plan.CancelledAt = &t
	return plan, nil
}

// MarkDefaulted moves an active plan to defaulted.
func MarkDefaulted(plan domain.PaymentPlan, now time.Time) (domain.PaymentPlan, error) {
	if plan.Status != domain.PlanStatusActive {
		return plan, fmt.Errorf("%w: plan %s is %s", ErrPlanNotActive, plan.ID, plan.Status)
	}
	t := now.UTC()
	plan.Status = domain.PlanStatusDefaulted
	plan.DefaultedAt = &t
	return plan, nil
}

// Review refreshes every installment status and defaults an active plan
// with a consecutive overdue run.
func Review(plan domain.PaymentPlan, installments []domain.Installment, now time.Time) (domain.PaymentPlan, []domain.Installment) {
	out := byNumber(installments)
	for i := range out {
		out[i] = RefreshStatus(out[i], now)
	}
	if plan.Status == domain.PlanStatusActive && DetectDefault(out) {
		plan, _ = MarkDefaulted(plan, now)
	}
	return plan, out
}

func completeIfPaid(plan domain.PaymentPlan, installments []domain.Installment, now time.Time) domain.PaymentPlan {
	paid := 0
	for _, inst := range installments {
		if inst.Status == domain.InstallmentPaid {
			paid++
		}
	}
	if paid == plan.NumberOfInstallments && plan.Status == domain.PlanStatusActive {
		plan.Status = domain.PlanStatusCompleted
		if plan.CompletedAt == nil {
			t := now.UTC()
			plan.CompletedAt = &t
		}
	}
	return plan
}

// byNumber returns a copy sorted by installment number.
func byNumber(installments []domain.Installment) []domain.Installment {
	out := make([]domain.Installment, len(installments))
	copy(out, installments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
