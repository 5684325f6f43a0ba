package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/telephony"
)

// contact wraps an outbound contact handler with the velocity guard. The
// reservation is returned when the send fails. A delivered contact is never
// reported as failed because stamping last_contact_at did not stick.
func (d *Dispatcher) contact(send Handler) Handler {
	return func(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
		if d.limiter != nil {
			if err := d.limiter.Allow(ctx, c.TenantID, c.ID); err != nil {
				return err
			}
		}
		if err := send(ctx, c, params); err != nil {
			if relErr := d.limiter.Release(ctx, c.TenantID, c.ID); relErr != nil {
				slog.Warn("failed to release contact reservation",
					"tenant_id", c.TenantID,
					"case_id", c.ID,
					"error", relErr,
				)
			}
			return err
		}

		at := d.now()
		err := d.update(ctx, c, func(cur *domain.DebtCase) (bool, error) {
			cur.MarkContacted(at)
			return true, nil
		})
		if err != nil {
			slog.Warn("contact sent but not stamped on case",
				"tenant_id", c.TenantID,
				"case_id", c.ID,
				"error", err,
			)
		}
		return nil
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.SendEmailParams)
	if d.messenger == nil {
		return fmt.Errorf("%w: messenger", ErrNotConfigured)
	}
	if c.CustomerEmail == "" {
		return fmt.Errorf("%w: email", ErrNoContact)
	}
	return d.messenger.SendEmail(ctx, &domain.EmailMessage{
		ID:         uuid.New().String(),
		TenantID:   c.TenantID,
		CaseID:     c.ID,
		To:         c.CustomerEmail,
		TemplateID: p.TemplateID,
		Subject:    p.Subject,
		Body:       p.Body,
		Variables:  caseVariables(c),
	})
}

func (d *Dispatcher) sendSMS(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.SendSMSParams)
	if d.messenger == nil {
		return fmt.Errorf("%w: messenger", ErrNotConfigured)
	}
	if c.CustomerPhone == "" {
		return fmt.Errorf("%w: phone", ErrNoContact)
	}
	return d.messenger.SendSMS(ctx, &domain.SMSMessage{
		ID:         uuid.New().String(),
		TenantID:   c.TenantID,
		CaseID:     c.ID,
		To:         c.CustomerPhone,
		TemplateID: p.TemplateID,
		Message:    p.Message,
		Variables:  caseVariables(c),
	})
}

// voiceCall stores a pending call before placing it so the provider's
// webhooks can be matched by call id even if they beat the placement reply.
func (d *Dispatcher) voiceCall(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.VoiceCallParams)
	if d.caller == nil {
		return fmt.Errorf("%w: telephony", ErrNotConfigured)
	}
	if c.CustomerPhone == "" {
		return fmt.Errorf("%w: phone", ErrNoContact)
	}

	call := &domain.Call{
		ID:          uuid.New().String(),
		CaseID:      c.ID,
		AgentID:     p.AgentID,
		PhoneNumber: c.CustomerPhone,
		Status:      domain.CallStatusPending,
	}
	if err := d.repo.SaveCall(ctx, c.TenantID, call); err != nil {
		return fmt.Errorf("failed to save call: %w", err)
	}

	vars := make(map[string]string, len(p.DynamicVariables)+8)
	for k, v := range p.DynamicVariables {
		vars[k] = v
	}
	for k, v := range caseVariables(c) {
		vars[k] = v
	}
	vars[telephony.VarTenantID] = c.TenantID
	vars[telephony.VarCaseID] = c.ID
	vars[telephony.VarCallID] = call.ID

	placement, err := d.caller.PlaceCall(ctx, &domain.CallRequest{
		AgentID:          p.AgentID,
		PhoneNumberID:    p.PhoneNumberID,
		ToNumber:         c.CustomerPhone,
		DynamicVariables: vars,
	})
	if err != nil {
		ended := d.now().UTC()
		call.Status = domain.CallStatusFailed
		call.EndedAt = &ended
		if saveErr := d.repo.SaveCall(context.WithoutCancel(ctx), c.TenantID, call); saveErr != nil {
			slog.Error("failed to mark call failed", "tenant_id", c.TenantID, "call_id", call.ID, "error", saveErr)
		}
		return fmt.Errorf("failed to place call: %w", err)
	}

	call.ExternalID = placement.ExternalID
	if err := d.repo.SaveCall(ctx, c.TenantID, call); err != nil {
		return fmt.Errorf("failed to save call placement: %w", err)
	}

	slog.Info("voice call placed",
		"tenant_id", c.TenantID,
		"case_id", c.ID,
		"call_id", call.ID,
		"external_id", call.ExternalID,
	)
	return nil
}

func (d *Dispatcher) assignAgent(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.AssignAgentParams)
	return d.update(ctx, c, func(cur *domain.DebtCase) (bool, error) {
		if cur.AssignedAgent == p.AgentID {
			return false, nil
		}
		cur.AssignedAgent = p.AgentID
		return true, nil
	})
}

// escalatePriority never lowers priority. A case already at or above the
// target is left alone and counts as success.
func (d *Dispatcher) escalatePriority(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.EscalatePriorityParams)
	return d.update(ctx, c, func(cur *domain.DebtCase) (bool, error) {
		return cur.RaisePriority(p.Priority), nil
	})
}

func (d *Dispatcher) addToCampaign(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.AddToCampaignParams)
	return d.update(ctx, c, func(cur *domain.DebtCase) (bool, error) {
		if cur.CampaignID == p.CampaignID {
			return false, nil
		}
		cur.CampaignID = p.CampaignID
		return true, nil
	})
}

// createDebtCase makes sure an open case exists for the invoice.
func (d *Dispatcher) createDebtCase(ctx context.Context, c *domain.DebtCase, params domain.ActionParams) error {
	p := params.(*domain.CreateDebtCaseParams)
	if d.cases == nil {
		return fmt.Errorf("%w: case service", ErrNotConfigured)
	}

	priority := p.Priority
	if priority == "" {
		priority = c.Priority
	}
	template := &domain.DebtCase{
		InvoiceID:     c.InvoiceID,
		CustomerID:    c.CustomerID,
		CustomerName:  c.CustomerName,
		CustomerEmail: c.CustomerEmail,
		CustomerPhone: c.CustomerPhone,
		Priority:      priority,
		TotalAmount:   c.TotalAmount,
		PaidAmount:    c.PaidAmount,
		Currency:      c.Currency,
		DueDate:       c.DueDate,
		Notes:         p.Notes,
	}

	opened, created, err := d.cases.EnsureOpen(ctx, c.TenantID, template)
	if err != nil {
		return err
	}
	if created {
		slog.Info("debt case opened by rule",
			"tenant_id", c.TenantID,
			"case_id", opened.ID,
			"invoice_id", opened.InvoiceID,
		)
	}
	return nil
}

// update writes a case change without announcing it, so rule actions never
// retrigger evaluation, and refreshes c with the stored result.
func (d *Dispatcher) update(ctx context.Context, c *domain.DebtCase, fn func(*domain.DebtCase) (bool, error)) error {
	if d.cases == nil {
		return fmt.Errorf("%w: case service", ErrNotConfigured)
	}
	updated, err := d.cases.Update(ctx, c.TenantID, c.ID, "", fn)
	if err != nil {
		return err
	}
	*c = *updated
	return nil
}

// caseVariables exposes case fields to message templates and voice agents.
func caseVariables(c *domain.DebtCase) map[string]string {
	return map[string]string{
		"customer_name":      c.CustomerName,
		"invoice_id":         c.InvoiceID,
		"outstanding_amount": c.Outstanding().StringFixed(2),
		"currency":           c.Currency,
		"days_overdue":       strconv.Itoa(c.DaysOverdue),
		"priority":           string(c.Priority),
	}
}
