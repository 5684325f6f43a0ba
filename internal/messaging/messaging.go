// Package messaging delivers outbound email and SMS for escalation actions.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kite/internal/domain"
)

// Routing keys on the notifications exchange.
const (
	RoutingKeyEmail = "email.send"
	RoutingKeySMS   = "sms.send"
)

// ErrNoRecipient is returned when a message has no destination address.
var ErrNoRecipient = errors.New("message has no recipient")

// New creates a messenger based on configuration.
func New(cfg domain.MessagingConfig) (domain.Messenger, error) {
	switch cfg.Type {
	case "log", "":
		return NewLogMessenger(slog.Default()), nil
	case "amqp":
		return NewAMQPMessenger(cfg.AMQPURL, cfg.Exchange)
	default:
		return nil, fmt.Errorf("unsupported messaging type: %s", cfg.Type)
	}
}

// LogMessenger writes messages to the log instead of sending them.
// Used by the Community tier and in development.
type LogMessenger struct {
	logger *slog.Logger
}

// NewLogMessenger creates a log-only messenger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

// SendEmail logs the email.
func (m *LogMessenger) SendEmail(ctx context.Context, msg *domain.EmailMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	m.logger.InfoContext(ctx, "email queued",
		"tenant_id", msg.TenantID,
		"case_id", msg.CaseID,
		"message_id", msg.ID,
		"template_id", msg.TemplateID,
		"subject", msg.Subject,
	)
	return nil
}

// SendSMS logs the text message.
func (m *LogMessenger) SendSMS(ctx context.Context, msg *domain.SMSMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	m.logger.InfoContext(ctx, "sms queued",
		"tenant_id", msg.TenantID,
		"case_id", msg.CaseID,
		"message_id", msg.ID,
		"template_id", msg.TemplateID,
	)
	return nil
}

// Close is a no-op.
func (m *LogMessenger) Close() error {
	return nil
}
