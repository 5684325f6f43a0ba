package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/cache"
	"github.com/opensource-finance/kite/internal/cases"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
	"github.com/opensource-finance/kite/internal/telephony"
	"github.com/opensource-finance/kite/internal/velocity"
	"github.com/shopspring/decimal"
)

type fakeMessenger struct {
	mu     sync.Mutex
	emails []*domain.EmailMessage
	sms    []*domain.SMSMessage
	err    error
}

func (m *fakeMessenger) SendEmail(ctx context.Context, msg *domain.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emails = append(m.emails, msg)
	return nil
}

func (m *fakeMessenger) SendSMS(ctx context.Context, msg *domain.SMSMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sms = append(m.sms, msg)
	return nil
}

func (m *fakeMessenger) Close() error { return nil }

type fakeCaller struct {
	requests []*domain.CallRequest
	err      error
}

func (c *fakeCaller) PlaceCall(ctx context.Context, req *domain.CallRequest) (*domain.CallPlacement, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &domain.CallPlacement{ExternalID: "conv-" + req.DynamicVariables[telephony.VarCallID]}, nil
}

type fixture struct {
	repo      domain.Repository
	cases     *cases.Service
	messenger *fakeMessenger
	caller    *fakeCaller
	dispatch  *Dispatcher
	now       time.Time
	invoices  int
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: t.TempDir() + "/kite.db"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	f := &fixture{
		repo:      repo,
		messenger: &fakeMessenger{},
		caller:    &fakeCaller{},
		now:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.cases = cases.NewService(repo, nil).WithClock(clock)
	f.dispatch = New(repo, f.cases, Options{
		Messenger: f.messenger,
		Caller:    f.caller,
		Limiter:   velocity.NewService(cache.NewLRUCache(100), limit, 24*time.Hour),
	}).WithClock(clock)
	return f
}

func (f *fixture) openCase(t *testing.T) *domain.DebtCase {
	t.Helper()
	f.invoices++
	c := &domain.DebtCase{
		InvoiceID:     fmt.Sprintf("inv-%03d", f.invoices),
		CustomerID:    "cust-001",
		CustomerName:  "Ada Debtor",
		CustomerEmail: "ada@example.com",
		CustomerPhone: "+15550100",
		TotalAmount:   decimal.NewFromInt(1200),
		Currency:      "USD",
		DueDate:       time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC),
	}
	if err := f.cases.Create(context.Background(), "tenant-001", c); err != nil {
		t.Fatalf("failed to create case: %v", err)
	}
	return c
}

func (f *fixture) saveRule(t *testing.T, actions ...domain.Action) *domain.EscalationRule {
	t.Helper()
	rule := &domain.EscalationRule{
		ID:       "rule-001",
		Name:     "30 days overdue",
		Actions:  actions,
		Priority: 1,
		Active:   true,
	}
	if err := f.repo.SaveRule(context.Background(), "tenant-001", rule); err != nil {
		t.Fatalf("failed to save rule: %v", err)
	}
	return rule
}

func action(t *testing.T, params domain.ActionParams) domain.Action {
	t.Helper()
	a, err := domain.NewAction(params)
	if err != nil {
		t.Fatalf("NewAction failed: %v", err)
	}
	return a
}

func TestExecuteAllActions(t *testing.T) {
	f := newFixture(t, 0)
	c := f.openCase(t)
	ctx := context.Background()

	rule := f.saveRule(t,
		action(t, &domain.SendEmailParams{TemplateID: "reminder-1", Subject: "Overdue"}),
		action(t, &domain.SendSMSParams{Message: "Your invoice is overdue"}),
		action(t, &domain.VoiceCallParams{AgentID: "agent-1", DynamicVariables: map[string]string{"tone": "firm"}}),
		action(t, &domain.AssignAgentParams{AgentID: "collector-7"}),
		action(t, &domain.EscalatePriorityParams{}),
		action(t, &domain.AddToCampaignParams{CampaignID: "spring-2025"}),
		action(t, &domain.CreateDebtCaseParams{}),
	)

	exec := f.dispatch.Execute(ctx, rule, c)

	if exec.Result != domain.ExecutionSuccess {
		t.Fatalf("expected success, got %s: %+v", exec.Result, exec.Outcomes)
	}
	if len(exec.Actions) != 7 || exec.Actions[0] != domain.ActionSendEmail || exec.Actions[6] != domain.ActionCreateDebtCase {
		t.Errorf("unexpected action order %v", exec.Actions)
	}

	t.Run("Messaging", func(t *testing.T) {
		if len(f.messenger.emails) != 1 || f.messenger.emails[0].To != "ada@example.com" {
			t.Fatalf("unexpected emails %+v", f.messenger.emails)
		}
		if got := f.messenger.emails[0].Variables["outstanding_amount"]; got != "1200.00" {
			t.Errorf("expected outstanding 1200.00, got %s", got)
		}
		if len(f.messenger.sms) != 1 || f.messenger.sms[0].To != "+15550100" {
			t.Errorf("unexpected sms %+v", f.messenger.sms)
		}
	})

	t.Run("VoiceCall", func(t *testing.T) {
		if len(f.caller.requests) != 1 {
			t.Fatalf("expected one call, got %d", len(f.caller.requests))
		}
		vars := f.caller.requests[0].DynamicVariables
		if vars[telephony.VarTenantID] != "tenant-001" || vars[telephony.VarCaseID] != c.ID || vars["tone"] != "firm" {
			t.Errorf("unexpected dynamic variables %v", vars)
		}
		if vars["customer_name"] != "Ada Debtor" {
			t.Errorf("case fields not merged: %v", vars)
		}

		calls, err := f.repo.ListCallsByCase(ctx, "tenant-001", c.ID)
		if err != nil || len(calls) != 1 {
			t.Fatalf("expected one stored call, got %d (%v)", len(calls), err)
		}
		if calls[0].Status != domain.CallStatusPending || calls[0].ExternalID != "conv-"+vars[telephony.VarCallID] {
			t.Errorf("unexpected call %+v", calls[0])
		}
	})

	t.Run("CaseUpdated", func(t *testing.T) {
		stored, err := f.repo.GetCase(ctx, "tenant-001", c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if stored.AssignedAgent != "collector-7" || stored.CampaignID != "spring-2025" {
			t.Errorf("unexpected case %+v", stored)
		}
		if stored.Priority != domain.PriorityMedium {
			t.Errorf("expected medium priority, got %s", stored.Priority)
		}
		if stored.LastContactAt == nil || !stored.LastContactAt.Equal(f.now) {
			t.Errorf("expected last contact %v, got %v", f.now, stored.LastContactAt)
		}
		if c.Priority != domain.PriorityMedium {
			t.Error("caller's case was not refreshed")
		}
	})

	t.Run("CreateDebtCaseIsIdempotent", func(t *testing.T) {
		open, err := f.repo.ListCases(ctx, "tenant-001", domain.CaseFilter{OpenOnly: true})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(open) != 1 {
			t.Errorf("expected the existing case to be reused, got %d open cases", len(open))
		}
	})

	t.Run("ExecutionCounter", func(t *testing.T) {
		stored, err := f.repo.GetRule(ctx, "tenant-001", rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if stored.ExecutionCount != 1 || stored.LastExecutedAt == nil {
			t.Errorf("expected one execution, got %d at %v", stored.ExecutionCount, stored.LastExecutedAt)
		}
	})
}

func TestExecuteFailures(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	t.Run("UnknownAction", func(t *testing.T) {
		c := f.openCase(t)
		rule := f.saveRule(t,
			domain.Action{Type: "send_fax", Params: &domain.UnknownParams{Type: "send_fax"}},
			action(t, &domain.AssignAgentParams{AgentID: "collector-1"}),
		)
		exec := f.dispatch.Execute(ctx, rule, c)
		if exec.Result != domain.ExecutionPartial {
			t.Errorf("expected partial, got %s", exec.Result)
		}
		if exec.Outcomes[0].Success || !strings.Contains(exec.Outcomes[0].Error, "send_fax") {
			t.Errorf("unexpected first outcome %+v", exec.Outcomes[0])
		}
		if !exec.Outcomes[1].Success {
			t.Error("action after a failure should still run")
		}
	})

	t.Run("CollaboratorError", func(t *testing.T) {
		c := f.openCase(t)
		f.messenger.err = errors.New("smtp down")
		defer func() { f.messenger.err = nil }()

		rule := f.saveRule(t, action(t, &domain.SendEmailParams{TemplateID: "t"}))
		exec := f.dispatch.Execute(ctx, rule, c)
		if exec.Result != domain.ExecutionFailed {
			t.Errorf("expected failed, got %s", exec.Result)
		}
		stored, _ := f.repo.GetCase(ctx, "tenant-001", c.ID)
		if stored.LastContactAt != nil {
			t.Error("failed contact should not be recorded")
		}
	})

	t.Run("Panic", func(t *testing.T) {
		c := f.openCase(t)
		f.dispatch.Register(domain.ActionAddToCampaign, func(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
			panic("boom")
		})
		rule := f.saveRule(t, action(t, &domain.AddToCampaignParams{CampaignID: "x"}))
		exec := f.dispatch.Execute(ctx, rule, c)
		if exec.Result != domain.ExecutionFailed || !strings.Contains(exec.Outcomes[0].Error, "panicked") {
			t.Errorf("expected recovered panic, got %+v", exec.Outcomes)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		c := f.openCase(t)
		d := New(f.repo, f.cases, Options{ActionTimeout: 10 * time.Millisecond})
		d.Register(domain.ActionAssignAgent, func(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
			<-ctx.Done()
			return ctx.Err()
		})
		rule := f.saveRule(t, action(t, &domain.AssignAgentParams{AgentID: "a"}))
		exec := d.Execute(ctx, rule, c)
		if exec.Result != domain.ExecutionFailed {
			t.Errorf("expected timed-out action to fail, got %s", exec.Result)
		}
	})

	t.Run("NoActions", func(t *testing.T) {
		c := f.openCase(t)
		rule := f.saveRule(t)
		if exec := f.dispatch.Execute(ctx, rule, c); exec.Result != domain.ExecutionFailed {
			t.Errorf("expected failed for empty rule, got %s", exec.Result)
		}
	})

	t.Run("PlacementFailureMarksCall", func(t *testing.T) {
		c := f.openCase(t)
		f.caller.err = errors.New("provider unavailable")
		defer func() { f.caller.err = nil }()

		rule := f.saveRule(t, action(t, &domain.VoiceCallParams{AgentID: "agent-1"}))
		if exec := f.dispatch.Execute(ctx, rule, c); exec.Result != domain.ExecutionFailed {
			t.Errorf("expected failed, got %s", exec.Result)
		}
		calls, _ := f.repo.ListCallsByCase(ctx, "tenant-001", c.ID)
		if len(calls) != 1 || calls[0].Status != domain.CallStatusFailed {
			t.Errorf("expected one failed call, got %+v", calls)
		}
	})

	t.Run("MissingContact", func(t *testing.T) {
		c := f.openCase(t)
		if _, err := f.cases.Update(ctx, "tenant-001", c.ID, "", func(cur *domain.DebtCase) (bool, error) {
			cur.CustomerPhone = ""
			return true, nil
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		c.CustomerPhone = ""
		rule := f.saveRule(t, action(t, &domain.SendSMSParams{Message: "hi"}))
		exec := f.dispatch.Execute(ctx, rule, c)
		if exec.Outcomes[0].Success || !strings.Contains(exec.Outcomes[0].Error, ErrNoContact.Error()) {
			t.Errorf("expected missing contact failure, got %+v", exec.Outcomes[0])
		}
	})
}

func TestEscalatePriorityNeverLowers(t *testing.T) {
	f := newFixture(t, 0)
	c := f.openCase(t)
	ctx := context.Background()

	rule := f.saveRule(t, action(t, &domain.EscalatePriorityParams{Priority: domain.PriorityCritical}))
	if exec := f.dispatch.Execute(ctx, rule, c); exec.Result != domain.ExecutionSuccess {
		t.Fatalf("expected success, got %s", exec.Result)
	}

	lower := f.saveRule(t, action(t, &domain.EscalatePriorityParams{Priority: domain.PriorityMedium}))
	if exec := f.dispatch.Execute(ctx, lower, c); exec.Result != domain.ExecutionSuccess {
		t.Errorf("no-op escalation should succeed, got %s", exec.Result)
	}
	stored, _ := f.repo.GetCase(ctx, "tenant-001", c.ID)
	if stored.Priority != domain.PriorityCritical {
		t.Errorf("priority lowered to %s", stored.Priority)
	}
}

func TestContactLimit(t *testing.T) {
	f := newFixture(t, 2)
	c := f.openCase(t)
	ctx := context.Background()

	rule := f.saveRule(t,
		action(t, &domain.SendEmailParams{TemplateID: "t"}),
		action(t, &domain.SendSMSParams{Message: "m"}),
		action(t, &domain.SendEmailParams{TemplateID: "t2"}),
	)
	exec := f.dispatch.Execute(ctx, rule, c)
	if exec.Result != domain.ExecutionPartial {
		t.Fatalf("expected partial, got %s", exec.Result)
	}
	if !strings.Contains(exec.Outcomes[2].Error, velocity.ErrContactLimit.Error()) {
		t.Errorf("expected contact limit on third action, got %+v", exec.Outcomes[2])
	}
	if len(f.messenger.emails) != 1 {
		t.Errorf("capped email was sent")
	}
}

func TestContactBudgetCountsDeliveredOnly(t *testing.T) {
	f := newFixture(t, 2)
	c := f.openCase(t)
	ctx := context.Background()

	rule := f.saveRule(t,
		action(t, &domain.SendEmailParams{TemplateID: "t"}),
		action(t, &domain.SendSMSParams{Message: "m"}),
	)

	f.messenger.err = errors.New("smtp unavailable")
	if exec := f.dispatch.Execute(ctx, rule, c); exec.Result != domain.ExecutionFailed {
		t.Fatalf("expected failed while the provider is down, got %s", exec.Result)
	}

	f.messenger.err = nil
	exec := f.dispatch.Execute(ctx, rule, c)
	if exec.Result != domain.ExecutionSuccess {
		t.Fatalf("failed sends used up the contact budget: %+v", exec.Outcomes)
	}

	exec = f.dispatch.Execute(ctx, rule, c)
	if exec.Result != domain.ExecutionFailed {
		t.Errorf("expected budget exhausted after two deliveries, got %s", exec.Result)
	}
	for _, o := range exec.Outcomes {
		if !strings.Contains(o.Error, velocity.ErrContactLimit.Error()) {
			t.Errorf("expected contact limit, got %+v", o)
		}
	}
}

// caseWriteFailure rejects every case write.
type caseWriteFailure struct {
	domain.Repository
}

func (caseWriteFailure) UpdateCase(ctx context.Context, tenantID string, c *domain.DebtCase) error {
	return errors.New("database is read-only")
}

func TestDeliveredContactSurvivesStampFailure(t *testing.T) {
	f := newFixture(t, 0)
	c := f.openCase(t)
	ctx := context.Background()

	d := New(f.repo, cases.NewService(caseWriteFailure{f.repo}, nil), Options{Messenger: f.messenger})
	rule := f.saveRule(t, action(t, &domain.SendEmailParams{TemplateID: "t"}))

	exec := d.Execute(ctx, rule, c)
	if exec.Result != domain.ExecutionSuccess {
		t.Errorf("delivered email reported as %s: %+v", exec.Result, exec.Outcomes)
	}
	if len(f.messenger.emails) != 1 {
		t.Errorf("expected one email sent, got %d", len(f.messenger.emails))
	}
	stored, _ := f.repo.GetCase(ctx, "tenant-001", c.ID)
	if stored.LastContactAt != nil {
		t.Errorf("expected no contact stamp, got %v", stored.LastContactAt)
	}
}
