package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/cases"
	"github.com/opensource-finance/kite/internal/domain"
)

// dedupWindow is how long a delivery is remembered for duplicate suppression.
const dedupWindow = 24 * time.Hour

// Outcome of reconciling one event.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultStale     = "stale"
)

// Result describes what an event changed.
type Result struct {
	Result     string            `json:"result"`
	CallID     string            `json:"callId,omitempty"`
	CallStatus domain.CallStatus `json:"callStatus,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	CaseStatus domain.CaseStatus `json:"caseStatus,omitempty"`
}

// Reconciler applies provider call events to local call and case state.
type Reconciler struct {
	repo  domain.Repository
	cases *cases.Service
	cache domain.Cache
	bus   domain.EventBus
	now   func() time.Time
}

// NewReconciler creates a reconciler. cache and eventBus may be nil.
func NewReconciler(repo domain.Repository, caseSvc *cases.Service, cache domain.Cache, eventBus domain.EventBus) *Reconciler {
	return &Reconciler{repo: repo, cases: caseSvc, cache: cache, bus: eventBus, now: time.Now}
}

// WithClock replaces the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Handle applies one event. Unknown event types and unknown conversations
// are acknowledged without changes.
func (r *Reconciler) Handle(ctx context.Context, ev *Event) (*Result, error) {
	status, known := EventStatus(ev.Type)
	if !known {
		slog.Debug("ignoring voice event", "event_type", ev.Type, "conversation_id", ev.Data.ConversationID)
		return &Result{Result: ResultIgnored}, nil
	}

	tenantID := ev.Var(VarTenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: event carries no %s", domain.ErrInvalidInput, VarTenantID)
	}
	if !domain.ValidTenantID(tenantID) {
		return nil, fmt.Errorf("%w: malformed %s %q", domain.ErrInvalidInput, VarTenantID, tenantID)
	}

	seenKey := domain.CacheKeyWebhookSeen + ev.DedupKey()
	if r.cache != nil {
		n, err := r.cache.IncrementCounter(ctx, tenantID, seenKey, dedupWindow)
		if err != nil {
			slog.Warn("webhook de-duplication unavailable", "tenant_id", tenantID, "error", err)
		} else if n > 1 {
			return &Result{Result: ResultDuplicate}, nil
		}
	}

	res, err := r.apply(ctx, tenantID, ev, status)
	if err != nil && r.cache != nil {
		// Let the provider's retry through.
		_ = r.cache.Delete(ctx, tenantID, seenKey)
	}
	return res, err
}

func (r *Reconciler) apply(ctx context.Context, tenantID string, ev *Event, status domain.CallStatus) (*Result, error) {
	call, err := r.findCall(ctx, tenantID, ev)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Warn("voice event for unknown call",
			"tenant_id", tenantID,
			"conversation_id", ev.Data.ConversationID,
			"event_type", ev.Type,
		)
		return &Result{Result: ResultIgnored}, nil
	}
	if err != nil {
		return nil, err
	}

	at := r.now().UTC()
	if ev.EventTimestamp > 0 {
		at = time.Unix(ev.EventTimestamp, 0).UTC()
	}

	advanced := statusRank(status) > statusRank(call.Status)
	if advanced {
		call.Status = status
		if status == domain.CallStatusInProgress && call.StartedAt == nil {
			call.StartedAt = &at
		}
		if status.Terminal() && call.EndedAt == nil {
			call.EndedAt = &at
		}
	}

	outcomeSet := false
	enriched := false
	if call.Status == domain.CallStatusCompleted && status == domain.CallStatusCompleted {
		enriched = enrich(call, ev)
		if call.Outcome == "" && ev.Data.Analysis.Outcome != "" {
			call.Outcome, _, _ = OutcomeStatus(ev.Data.Analysis.Outcome)
			outcomeSet = true
			enriched = true
		}
	}

	if !advanced && !enriched {
		return &Result{Result: ResultStale, CallID: call.ID, CallStatus: call.Status}, nil
	}

	if err := r.repo.SaveCall(ctx, tenantID, call); err != nil {
		return nil, fmt.Errorf("failed to save call: %w", err)
	}

	res := &Result{Result: ResultApplied, CallID: call.ID, CallStatus: call.Status, Outcome: call.Outcome}

	if advanced && call.Status == domain.CallStatusCompleted {
		r.markContacted(ctx, tenantID, call.CaseID, at)
	}
	if outcomeSet {
		res.CaseStatus = r.applyOutcome(ctx, tenantID, call)
	}

	slog.Info("voice call reconciled",
		"tenant_id", tenantID,
		"call_id", call.ID,
		"case_id", call.CaseID,
		"event_type", ev.Type,
		"status", call.Status,
		"outcome", call.Outcome,
	)

	if r.bus != nil {
		event := domain.CallUpdatedEvent{CallID: call.ID, CaseID: call.CaseID, Status: call.Status, Outcome: call.Outcome}
		if err := bus.PublishJSON(ctx, r.bus, tenantID, domain.TopicCallUpdated, event); err != nil {
			slog.Warn("failed to publish call update", "tenant_id", tenantID, "call_id", call.ID, "error", err)
		}
	}
	return res, nil
}

// findCall looks the call up by conversation id, falling back to the call
// id the dispatcher attached when the placement has not been stored yet.
func (r *Reconciler) findCall(ctx context.Context, tenantID string, ev *Event) (*domain.Call, error) {
	call, err := r.repo.GetCallByExternalID(ctx, tenantID, ev.Data.ConversationID)
	if !errors.Is(err, domain.ErrNotFound) {
		return call, err
	}

	callID, caseID := ev.Var(VarCallID), ev.Var(VarCaseID)
	if callID == "" || caseID == "" {
		return nil, domain.ErrNotFound
	}
	calls, err := r.repo.ListCallsByCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	for _, c := range calls {
		if c.ID == callID {
			c.ExternalID = ev.Data.ConversationID
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Reconciler) markContacted(ctx context.Context, tenantID, caseID string, at time.Time) {
	if r.cases == nil || caseID == "" {
		return
	}
	_, err := r.cases.Update(ctx, tenantID, caseID, "", func(c *domain.DebtCase) (bool, error) {
		c.MarkContacted(at)
		return true, nil
	})
	if err != nil {
		slog.Warn("failed to record case contact", "tenant_id", tenantID, "case_id", caseID, "error", err)
	}
}

// applyOutcome moves the case to the status the call outcome maps to and
// returns the new status, or "" when the case did not move. Outcomes never
// pull a case out of legal, and closed cases reject them.
func (r *Reconciler) applyOutcome(ctx context.Context, tenantID string, call *domain.Call) domain.CaseStatus {
	_, target, ok := OutcomeStatus(call.Outcome)
	if !ok || r.cases == nil || call.CaseID == "" {
		return ""
	}

	moved := false
	_, err := r.cases.Update(ctx, tenantID, call.CaseID, domain.ReasonCallOutcome, func(c *domain.DebtCase) (bool, error) {
		moved = false
		if c.Status == target || c.Status == domain.CaseStatusLegal {
			return false, nil
		}
		if err := c.TransitionTo(target); err != nil {
			return false, err
		}
		moved = true
		return true, nil
	})
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrInvalidTransition) {
			level = slog.LevelInfo
		}
		slog.Log(ctx, level, "call outcome not applied to case",
			"tenant_id", tenantID,
			"case_id", call.CaseID,
			"outcome", call.Outcome,
			"error", err,
		)
		return ""
	}
	if !moved {
		return ""
	}
	return target
}

// enrich copies post-call details onto the call. Reports whether anything changed.
func enrich(call *domain.Call, ev *Event) bool {
	changed := false
	if t := ev.TranscriptText(); t != "" && call.Transcript == "" {
		call.Transcript = t
		changed = true
	}
	if s := ev.Data.Analysis.Sentiment; s != "" && call.Sentiment == "" {
		call.Sentiment = s
		changed = true
	}
	if d := ev.Data.Metadata.CallDurationSecs; d > 0 && call.DurationSecs == 0 {
		call.DurationSecs = d
		changed = true
	}
	return changed
}
