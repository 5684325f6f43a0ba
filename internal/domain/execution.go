package domain

import "time"

// ExecutionResult aggregates the outcomes of one rule firing.
type ExecutionResult string

const (
	ExecutionSuccess ExecutionResult = "success"
	ExecutionPartial ExecutionResult = "partial"
	ExecutionFailed  ExecutionResult = "failed"
)

// ActionOutcome is the result of one action slot.
type ActionOutcome struct {
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// RuleExecution is the append-only audit record of one rule firing
// against one case.
type RuleExecution struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	RuleID     string          `json:"ruleId"`
	CaseID     string          `json:"caseId"`
	ExecutedAt time.Time       `json:"executedAt"`
	Actions    []ActionType    `json:"actions"`
	Outcomes   []ActionOutcome `json:"outcomes"`
	Result     ExecutionResult `json:"result"`
	DurationMs int64           `json:"durationMs"`
}

// AggregateResult folds per-action outcomes into a result.
// No actions counts as failed.
func AggregateResult(outcomes []ActionOutcome) ExecutionResult {
	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	switch {
	case len(outcomes) > 0 && succeeded == len(outcomes):
		return ExecutionSuccess
	case succeeded == 0:
		return ExecutionFailed
	default:
		return ExecutionPartial
	}
}

// ExecutionSummary reports execution counts for a set of firings.
type ExecutionSummary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Partial     int     `json:"partial"`
	SuccessRate float64 `json:"successRate"`
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	RuleID string
	CaseID string
	Since  time.Time
	Limit  int
}
