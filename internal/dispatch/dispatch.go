// Package dispatch executes the actions of a matched escalation rule
// against a debt case and folds the per-action outcomes into a RuleExecution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/opensource-finance/kite/internal/cases"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/velocity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultActionTimeout = 15 * time.Second

var tracer = otel.Tracer("kite-dispatch")

var (
	// ErrUnknownAction is recorded for an action kind with no handler.
	ErrUnknownAction = errors.New("no handler for action type")

	// ErrNoContact is returned when the case lacks the address a contact action needs.
	ErrNoContact = errors.New("case has no contact address for action")

	// ErrNotConfigured is returned when the collaborator an action needs is missing.
	ErrNotConfigured = errors.New("collaborator not configured")
)

// Handler runs one action against a case. Handlers that change the case
// write it through the case service and refresh c in place.
type Handler func(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error

// Options carries the dispatcher's collaborators. Nil collaborators make the
// actions that need them fail.
type Options struct {
	Messenger     domain.Messenger
	Caller        domain.VoiceCaller
	Limiter       *velocity.Service
	ActionTimeout time.Duration
}

// Dispatcher executes rule actions in order.
type Dispatcher struct {
	repo      domain.Repository
	cases     *cases.Service
	messenger domain.Messenger
	caller    domain.VoiceCaller
	limiter   *velocity.Service
	timeout   time.Duration
	handlers  map[domain.ActionType]Handler
	now       func() time.Time
}

// New creates a dispatcher with the built-in action handlers.
func New(repo domain.Repository, caseSvc *cases.Service, opts Options) *Dispatcher {
	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}

	d := &Dispatcher{
		repo:      repo,
		cases:     caseSvc,
		messenger: opts.Messenger,
		caller:    opts.Caller,
		limiter:   opts.Limiter,
		timeout:   timeout,
		now:       time.Now,
	}
	d.handlers = map[domain.ActionType]Handler{
		domain.ActionSendEmail:        d.contact(d.sendEmail),
		domain.ActionSendSMS:          d.contact(d.sendSMS),
		domain.ActionVoiceCall:        d.contact(d.voiceCall),
		domain.ActionAssignAgent:      d.assignAgent,
		domain.ActionEscalatePriority: d.escalatePriority,
		domain.ActionAddToCampaign:    d.addToCampaign,
		domain.ActionCreateDebtCase:   d.createDebtCase,
	}
	return d
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Register installs or replaces the handler for an action kind.
func (d *Dispatcher) Register(kind domain.ActionType, h Handler) {
	d.handlers[kind] = h
}

// Execute runs every action of rule against c in order. A failing action
// never stops the ones after it. The rule's execution counter is bumped
// once per call.
func (d *Dispatcher) Execute(ctx context.Context, rule *domain.EscalationRule, c *domain.DebtCase) *domain.RuleExecution {
	start := d.now()
	tenantID := c.TenantID

	exec := &domain.RuleExecution{
		TenantID: tenantID,
		RuleID:   rule.ID,
		CaseID:   c.ID,
		Actions:  make([]domain.ActionType, 0, len(rule.Actions)),
		Outcomes: make([]domain.ActionOutcome, 0, len(rule.Actions)),
	}

	for _, action := range rule.Actions {
		outcome := domain.ActionOutcome{Type: action.Type, Success: true}
		if err := d.run(ctx, rule, c, action); err != nil {
			outcome.Success = false
			outcome.Error = err.Error()
			slog.Warn("action failed",
				"tenant_id", tenantID,
				"rule_id", rule.ID,
				"case_id", c.ID,
				"action", action.Type,
				"error", err,
			)
		}
		exec.Actions = append(exec.Actions, action.Type)
		exec.Outcomes = append(exec.Outcomes, outcome)
	}

	exec.Result = domain.AggregateResult(exec.Outcomes)
	exec.ExecutedAt = d.now().UTC()
	exec.DurationMs = exec.ExecutedAt.Sub(start).Milliseconds()

	if err := d.repo.IncrementRuleExecution(ctx, tenantID, rule.ID, exec.ExecutedAt); err != nil {
		slog.Error("failed to bump rule execution count",
			"tenant_id", tenantID,
			"rule_id", rule.ID,
			"error", err,
		)
	}

	slog.Info("rule executed",
		"tenant_id", tenantID,
		"rule_id", rule.ID,
		"case_id", c.ID,
		"result", exec.Result,
		"action_count", len(exec.Actions),
		"duration_ms", exec.DurationMs,
	)
	return exec
}

// run executes one action under its own timeout and span, converting a
// handler panic into an error.
func (d *Dispatcher) run(ctx context.Context, rule *domain.EscalationRule, c *domain.DebtCase, action domain.Action) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "action "+string(action.Type),
		trace.WithAttributes(
			attribute.String("tenant.id", c.TenantID),
			attribute.String("rule.id", rule.ID),
			attribute.String("case.id", c.ID),
			attribute.String("action.type", string(action.Type)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("action panicked",
				"tenant_id", c.TenantID,
				"rule_id", rule.ID,
				"action", action.Type,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("action %s panicked: %v", action.Type, r)
		}
	}()

	handler, ok := d.handlers[action.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}
	if err := action.Validate(); err != nil {
		return err
	}
	return handler(ctx, c, action.Params)
}
