package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus is the lifecycle state of a payment plan.
type PlanStatus string

const (
	PlanStatusProposed  PlanStatus = "proposed"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusDefaulted PlanStatus = "defaulted"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Frequency is the spacing between installments.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Days returns the fixed day interval, or 0 for an unknown frequency.
// Monthly is a fixed 30 days, not a calendar month.
func (f Frequency) Days() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	case FrequencyMonthly:
		return 30
	}
	return 0
}

// PaymentPlan replaces a lump-sum debt with scheduled installments.
// RemainingAmount always equals TotalAmount - PaidAmount; negative means credit.
type PaymentPlan struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenantId"`
	CustomerID           string          `json:"customerId"`
	CaseID               string          `json:"caseId,omitempty"`
	Status               PlanStatus      `json:"status"`
	Currency             string          `json:"currency"`
	TotalAmount          decimal.Decimal `json:"totalAmount"`
	DownPayment          decimal.Decimal `json:"downPayment"`
	PaidAmount           decimal.Decimal `json:"paidAmount"`
	RemainingAmount      decimal.Decimal `json:"remainingAmount"`
	NumberOfInstallments int             `json:"numberOfInstallments"`
	Frequency            Frequency       `json:"frequency"`
	StartDate            time.Time       `json:"startDate"`
	AcceptedAt           *time.Time      `json:"acceptedAt,omitempty"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
	DefaultedAt          *time.Time      `json:"defaultedAt,omitempty"`
	CancelledAt          *time.Time      `json:"cancelledAt,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// InstallmentStatus is derived from paid amount and due date.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Installment is one scheduled payment within a plan.
type Installment struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	PlanID     string            `json:"planId"`
	Number     int               `json:"installmentNumber"`
	Amount     decimal.Decimal   `json:"amount"`
	PaidAmount decimal.Decimal   `json:"paidAmount"`
	DueDate    time.Time         `json:"dueDate"`
	Status     InstallmentStatus `json:"status"`
	PaidAt     *time.Time        `json:"paidAt,omitempty"`
}

// Due returns the unpaid portion, never negative.
func (i *Installment) Due() decimal.Decimal {
	d := i.Amount.Sub(i.PaidAmount)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
