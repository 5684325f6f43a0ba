// Package tracker records rule executions and aggregates them into
// success-rate summaries.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/domain"
)

// Tracker appends executions to the audit trail.
type Tracker struct {
	repo domain.Repository
	bus  domain.EventBus
}

// New creates a tracker. eventBus may be nil.
func New(repo domain.Repository, eventBus domain.EventBus) *Tracker {
	return &Tracker{repo: repo, bus: eventBus}
}

// Record stores the execution and announces it on the bus.
func (t *Tracker) Record(ctx context.Context, tenantID string, exec *domain.RuleExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	exec.TenantID = tenantID

	if err := t.repo.SaveExecution(ctx, tenantID, exec); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	if t.bus != nil {
		if err := bus.PublishJSON(ctx, t.bus, tenantID, domain.TopicRuleExecuted, exec); err != nil {
			slog.Warn("failed to publish rule execution",
				"tenant_id", tenantID,
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}
	return nil
}

// Summary loads the executions matching filter and summarizes them.
func (t *Tracker) Summary(ctx context.Context, tenantID string, filter domain.ExecutionFilter) (domain.ExecutionSummary, error) {
	execs, err := t.repo.ListExecutions(ctx, tenantID, filter)
	if err != nil {
		return domain.ExecutionSummary{}, fmt.Errorf("failed to list executions: %w", err)
	}
	return Summarize(execs), nil
}

// Summarize counts executions by result. SuccessRate is a percentage and is
// 0 when there are no executions.
func Summarize(execs []*domain.RuleExecution) domain.ExecutionSummary {
	var s domain.ExecutionSummary
	for _, e := range execs {
		s.Total++
		switch e.Result {
		case domain.ExecutionSuccess:
			s.Successful++
		case domain.ExecutionPartial:
			s.Partial++
		case domain.ExecutionFailed:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}
	return s
}
