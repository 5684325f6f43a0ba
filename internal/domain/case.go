package domain

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/money"
	"github.com/shopspring/decimal"
)

// CaseStatus is the collection workflow state of a debt case.
type CaseStatus string

const (
	CaseStatusNew         CaseStatus = "new"
	CaseStatusContacted   CaseStatus = "contacted"
	CaseStatusInProgress  CaseStatus = "in_progress"
	CaseStatusPaymentPlan CaseStatus = "payment_plan"
	CaseStatusResolved    CaseStatus = "resolved"
	CaseStatusEscalated   CaseStatus = "escalated"
	CaseStatusLegal       CaseStatus = "legal"
	CaseStatusClosed      CaseStatus = "closed"
	CaseStatusWrittenOff  CaseStatus = "written_off"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusNew, CaseStatusContacted, CaseStatusInProgress, CaseStatusPaymentPlan,
		CaseStatusResolved, CaseStatusEscalated, CaseStatusLegal, CaseStatusClosed, CaseStatusWrittenOff:
		return true
	}
	return false
}

// IsOpen reports whether the case is still under collection.
func (s CaseStatus) IsOpen() bool {
	switch s {
	case CaseStatusResolved, CaseStatusClosed, CaseStatusWrittenOff:
		return false
	}
	return s.Valid()
}

// Priority is the urgency of a debt case. Ordered low < medium < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityOrder = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Rank returns the position of p in the priority order, or -1 if unknown.
func (p Priority) Rank() int {
	for i, candidate := range priorityOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// Next returns the priority one level above p. Critical stays critical.
func (p Priority) Next() Priority {
	r := p.Rank()
	if r < 0 {
		return PriorityLow
	}
	if r+1 >= len(priorityOrder) {
		return PriorityCritical
	}
	return priorityOrder[r+1]
}

// DebtCase is a receivable under active or potential collection.
type DebtCase struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	InvoiceID     string          `json:"invoiceId"`
	CustomerID    string          `json:"customerId"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	Status        CaseStatus      `json:"status"`
	Priority      Priority        `json:"priority"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Currency      string          `json:"currency"`
	DueDate       time.Time       `json:"dueDate"`
	DaysOverdue   int             `json:"daysOverdue"`
	AssignedAgent string          `json:"assignedAgent,omitempty"`
	CampaignID    string          `json:"campaignId,omitempty"`
	LastContactAt *time.Time      `json:"lastContactAt,omitempty"`
	NextActionAt  *time.Time      `json:"nextActionAt,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// CaseSnapshot is the read-only view of a case that rule conditions see.
type CaseSnapshot struct {
	DaysOverdue int
	DebtAmount  decimal.Decimal
	PaidAmount  decimal.Decimal
	Priority    Priority
	Status      CaseStatus
	Currency    string
}

// Snapshot returns the condition-evaluation view of the case.
func (c *DebtCase) Snapshot() CaseSnapshot {
	return CaseSnapshot{
		DaysOverdue: c.DaysOverdue,
		DebtAmount:  c.TotalAmount,
		PaidAmount:  c.PaidAmount,
		Priority:    c.Priority,
		Status:      c.Status,
		Currency:    c.Currency,
	}
}

// Outstanding returns total minus paid.
func (c *DebtCase) Outstanding() decimal.Decimal {
	return c.TotalAmount.Sub(c.PaidAmount)
}

// Validate checks the fields required to open a case.
func (c *DebtCase) Validate() error {
	if c.InvoiceID == "" {
		return fmt.Errorf("%w: invoiceId is required", ErrInvalidInput)
	}
	if c.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: totalAmount must not be negative", ErrInvalidInput)
	}
	if c.PaidAmount.IsNegative() || c.PaidAmount.GreaterThan(c.TotalAmount) {
		return fmt.Errorf("%w: paidAmount must be between 0 and totalAmount", ErrInvalidInput)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, c.Status)
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, c.Priority)
	}
	return nil
}

// RefreshDaysOverdue recomputes days overdue from the due date.
// Returns true if the value changed.
func (c *DebtCase) RefreshDaysOverdue(now time.Time) bool {
	days := money.DaysOverdue(c.DueDate, now)
	if days == c.DaysOverdue {
		return false
	}
	c.DaysOverdue = days
	return true
}

// ApplyPayment adds amount to the paid total, clamped at the total debt.
// Returns the portion actually applied.
func (c *DebtCase) ApplyPayment(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	applied := money.Min(amount, c.Outstanding())
	if applied.IsNegative() {
		applied = decimal.Zero
	}
	c.PaidAmount = c.PaidAmount.Add(applied)
	return applied, nil
}

// TransitionTo moves the case to status. Resolving requires the debt to be
// paid. Closed and written-off cases only leave through Reopen; a resolved
// case may only be closed.
func (c *DebtCase) TransitionTo(status CaseStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if !c.Status.IsOpen() && c.Status != status &&
		!(c.Status == CaseStatusResolved && status == CaseStatusClosed) {
		return fmt.Errorf("%w: case %s is %s", ErrInvalidTransition, c.ID, c.Status)
	}
	if status == CaseStatusResolved && c.PaidAmount.LessThan(c.TotalAmount) {
		return fmt.Errorf("%w: case %s has outstanding balance %s", ErrInvalidTransition, c.ID, c.Outstanding())
	}
	c.Status = status
	return nil
}

// Reopen returns a closed or written-off case to in_progress.
func (c *DebtCase) Reopen() error {
	if c.Status != CaseStatusClosed && c.Status != CaseStatusWrittenOff {
		return fmt.Errorf("%w: cannot reopen case %s in status %s", ErrInvalidTransition, c.ID, c.Status)
	}
	c.Status = CaseStatusInProgress
	return nil
}

// RaisePriority moves the priority up to target, or one level when target is empty.
// Never lowers priority. Returns true if the priority changed.
func (c *DebtCase) RaisePriority(target Priority) bool {
	next := target
	if next == "" {
		next = c.Priority.Next()
	}
	if next.Rank() <= c.Priority.Rank() {
		return false
	}
	c.Priority = next
	return true
}

// MarkContacted records an outbound contact.
func (c *DebtCase) MarkContacted(at time.Time) {
	t := at.UTC()
	c.LastContactAt = &t
}
