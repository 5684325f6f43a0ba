// Package cases owns debt-case mutations: every write is a version
// compare-and-swap retried on conflict, and state changes that should
// re-trigger escalation are announced on the event bus.
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/shopspring/decimal"
)

// maxAttempts bounds compare-and-swap retries per mutation.
const maxAttempts = 5

// Mutation edits a freshly loaded case. Returning false skips the write.
type Mutation func(c *domain.DebtCase) (bool, error)

// Service applies case mutations against the repository.
type Service struct {
	repo domain.Repository
	bus  domain.EventBus
	now  func() time.Time
}

// NewService creates a case service. bus may be nil.
func NewService(repo domain.Repository, eventBus domain.EventBus) *Service {
	return &Service{repo: repo, bus: eventBus, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service clock reading in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Create validates and stores a new case, deriving days overdue from the due date.
func (s *Service) Create(ctx context.Context, tenantID string, c *domain.DebtCase) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CaseStatusNew
	}
	if c.Priority == "" {
		c.Priority = domain.PriorityLow
	}
	c.Currency = strings.ToUpper(c.Currency)
	c.RefreshDaysOverdue(s.Now())

	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.repo.CreateCase(ctx, tenantID, c); err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}

	slog.Info("debt case created",
		"tenant_id", tenantID,
		"case_id", c.ID,
		"invoice_id", c.InvoiceID,
		"days_overdue", c.DaysOverdue,
	)
	s.announce(ctx, tenantID, c.ID, domain.ReasonCaseCreated)
	return nil
}

// EnsureOpen returns the open case for the template's invoice, creating it
// from the template when none exists. The boolean reports creation.
func (s *Service) EnsureOpen(ctx context.Context, tenantID string, template *domain.DebtCase) (*domain.DebtCase, bool, error) {
	existing, err := s.repo.FindOpenCaseByInvoice(ctx, tenantID, template.InvoiceID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	err = s.Create(ctx, tenantID, template)
	if errors.Is(err, domain.ErrDuplicate) {
		// Lost the race to a concurrent open for the same invoice.
		existing, findErr := s.repo.FindOpenCaseByInvoice(ctx, tenantID, template.InvoiceID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return template, true, nil
}

// Update loads the case, applies fn and writes it back, retrying on version
// conflicts. A non-empty reason publishes a case-changed event after a write.
func (s *Service) Update(ctx context.Context, tenantID, caseID, reason string, fn Mutation) (*domain.DebtCase, error) {
	for attempt := 1; ; attempt++ {
		c, err := s.repo.GetCase(ctx, tenantID, caseID)
		if err != nil {
			return nil, err
		}

		changed, err := fn(c)
		if err != nil {
			return c, err
		}
		if !changed {
			return c, nil
		}

		err = s.repo.UpdateCase(ctx, tenantID, c)
		if err == nil {
			if reason != "" {
				s.announce(ctx, tenantID, c.ID, reason)
			}
			return c, nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) || attempt >= maxAttempts {
			return nil, err
		}

		slog.Debug("case version conflict, retrying",
			"tenant_id", tenantID,
			"case_id", caseID,
			"attempt", attempt,
		)
	}
}

// RecordPayment credits a payment against the case, clamped at the total.
func (s *Service) RecordPayment(ctx context.Context, tenantID, caseID string, amount decimal.Decimal) (*domain.DebtCase, decimal.Decimal, error) {
	var applied decimal.Decimal
	c, err := s.Update(ctx, tenantID, caseID, domain.ReasonPaymentReceived, func(c *domain.DebtCase) (bool, error) {
		var err error
		applied, err = c.ApplyPayment(amount)
		if err != nil {
			return false, err
		}
		return applied.IsPositive(), nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	if s.bus != nil && applied.IsPositive() {
		event := domain.PaymentEvent{CaseID: caseID, Amount: applied, Currency: c.Currency, ReceivedAt: s.Now()}
		if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicPaymentReceived, event); err != nil {
			slog.Warn("failed to publish payment event", "tenant_id", tenantID, "case_id", caseID, "error", err)
		}
	}
	return c, applied, nil
}

// SetStatus moves the case to status.
func (s *Service) SetStatus(ctx context.Context, tenantID, caseID string, status domain.CaseStatus, reason string) (*domain.DebtCase, error) {
	return s.Update(ctx, tenantID, caseID, reason, func(c *domain.DebtCase) (bool, error) {
		if c.Status == status {
			return false, nil
		}
		return true, c.TransitionTo(status)
	})
}

// Reopen returns a closed or written-off case to in_progress.
func (s *Service) Reopen(ctx context.Context, tenantID, caseID string) (*domain.DebtCase, error) {
	c, err := s.Update(ctx, tenantID, caseID, domain.ReasonCaseReopened, func(c *domain.DebtCase) (bool, error) {
		return true, c.Reopen()
	})
	if err != nil {
		return nil, err
	}
	slog.Info("debt case reopened", "tenant_id", tenantID, "case_id", caseID)
	return c, nil
}

// RefreshOverdue recomputes days overdue for every open case of the tenant.
// Returns the number of cases that changed.
func (s *Service) RefreshOverdue(ctx context.Context, tenantID string) (int, error) {
	open, err := s.repo.ListCases(ctx, tenantID, domain.CaseFilter{OpenOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list open cases: %w", err)
	}

	now := s.Now()
	changed := 0
	for _, c := range open {
		if c.DueDate.IsZero() {
			continue
		}
		updated := false
		_, err := s.Update(ctx, tenantID, c.ID, domain.ReasonDaysOverdue, func(c *domain.DebtCase) (bool, error) {
			updated = c.RefreshDaysOverdue(now)
			return updated, nil
		})
		if err != nil {
			slog.Error("failed to refresh days overdue",
				"tenant_id", tenantID,
				"case_id", c.ID,
				"error", err,
			)
			continue
		}
		if updated {
			changed++
		}
	}
	return changed, nil
}

func (s *Service) announce(ctx context.Context, tenantID, caseID, reason string) {
	if s.bus == nil {
		return
	}
	event := domain.CaseChangedEvent{CaseID: caseID, TenantID: tenantID, Reason: reason}
	if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicCaseChanged, event); err != nil {
		slog.Warn("failed to publish case change",
			"tenant_id", tenantID,
			"case_id", caseID,
			"reason", reason,
			"error", err,
		)
	}
}
