// Package worker runs the escalation pipeline for debt cases whose state
// changed, either from the event bus or on demand.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kite/internal/dispatch"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/tracker"
)

// Pipeline selects the rules matching a case, dispatches each in priority
// order and records the executions.
type Pipeline struct {
	repo       domain.Repository
	engine     *rules.Engine
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker
}

// NewPipeline creates an escalation pipeline.
func NewPipeline(repo domain.Repository, engine *rules.Engine, dispatcher *dispatch.Dispatcher, t *tracker.Tracker) *Pipeline {
	return &Pipeline{repo: repo, engine: engine, dispatcher: dispatcher, tracker: t}
}

// Evaluate runs the pipeline for one case. Cases that are no longer open
// match nothing.
func (p *Pipeline) Evaluate(ctx context.Context, tenantID, caseID string) ([]*domain.RuleExecution, error) {
	start := time.Now()

	c, err := p.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	if !c.Status.IsOpen() {
		slog.Debug("skipping closed case", "tenant_id", tenantID, "case_id", caseID, "status", c.Status)
		return nil, nil
	}

	matched, err := p.engine.SelectForCase(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to select rules: %w", err)
	}

	execs := make([]*domain.RuleExecution, 0, len(matched))
	for _, rule := range matched {
		exec := p.dispatcher.Execute(ctx, rule, c)
		if err := p.tracker.Record(ctx, tenantID, exec); err != nil {
			slog.Error("failed to record execution",
				"tenant_id", tenantID,
				"rule_id", rule.ID,
				"case_id", caseID,
				"error", err,
			)
		}
		execs = append(execs, exec)
	}

	slog.Info("case evaluated",
		"tenant_id", tenantID,
		"case_id", caseID,
		"matched_rules", len(matched),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return execs, nil
}

// Worker consumes case-changed events from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, pipeline *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing case changes for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.subscribe(domain.AllTenants)
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCaseChanged, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("case worker subscribed",
		"tenant_id", tenantID,
		"topic", domain.TopicCaseChanged,
	)
	return nil
}

// handleMessage evaluates the case named by a case-changed event.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev domain.CaseChangedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse case change",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := msg.TenantID
	if tenantID == "" {
		tenantID = ev.TenantID
	}

	slog.Debug("processing case change",
		"tenant_id", tenantID,
		"case_id", ev.CaseID,
		"reason", ev.Reason,
	)

	if _, err := w.pipeline.Evaluate(ctx, tenantID, ev.CaseID); err != nil {
		slog.Error("case evaluation failed",
			"tenant_id", tenantID,
			"case_id", ev.CaseID,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
