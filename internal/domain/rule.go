package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EscalationRule maps a condition set to an ordered list of actions.
// Lower priority values fire first.
type EscalationRule struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenantId"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Conditions  ConditionSet `json:"conditions"`
	Actions     []Action     `json:"actions"`
	Priority    int          `json:"priority"`
	Active      bool         `json:"active"`

	// Maintained by the dispatcher only. Generic updates preserve them.
	ExecutionCount int64      `json:"executionCount"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConditionSet holds optional sub-conditions combined with AND.
// An absent sub-condition imposes no constraint.
type ConditionSet struct {
	DaysOverdue *IntRange    `json:"daysOverdue,omitempty"`
	DebtAmount  *AmountRange `json:"debtAmount,omitempty"`
	Priority    []Priority   `json:"priority,omitempty"`
	Status      []CaseStatus `json:"status,omitempty"`

	// Expression is an optional CEL predicate evaluated after the fixed conditions.
	Expression string `json:"expression,omitempty"`
}

// IntRange is an inclusive range. A nil endpoint is unbounded.
type IntRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// AmountRange is an inclusive decimal range. A nil endpoint is unbounded.
type AmountRange struct {
	Min *decimal.Decimal `json:"min,omitempty"`
	Max *decimal.Decimal `json:"max,omitempty"`
}

// Validate checks the rule shape. Unknown action types are rejected here so
// malformed rules never reach the store.
func (r *EscalationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	for _, p := range r.Conditions.Priority {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown priority %q in conditions", ErrInvalidInput, p)
		}
	}
	for _, s := range r.Conditions.Status {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown status %q in conditions", ErrInvalidInput, s)
		}
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidInput)
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// ReorderChange is a single priority assignment produced by a reorder.
type ReorderChange struct {
	RuleID      string `json:"ruleId"`
	OldPriority int    `json:"oldPriority"`
	NewPriority int    `json:"newPriority"`
}
