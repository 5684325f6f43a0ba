package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AllTenants subscribes to a topic across every tenant. Publishing with it is rejected.
const AllTenants = "*"

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. tenantID may be AllTenants.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier). NATSQueue load-balances AllTenants
	// subscriptions across instances.
	NATSUrl           string
	NATSQueue         string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the collection pipeline.
const (
	TopicCaseChanged     = "kite.case.changed"
	TopicRuleExecuted    = "kite.rule.executed"
	TopicPaymentReceived = "kite.payment.received"
	TopicCallUpdated     = "kite.call.updated"
	TopicPlanDefaulted   = "kite.plan.defaulted"
)

// CaseChangedEvent is the payload of TopicCaseChanged.
type CaseChangedEvent struct {
	CaseID   string `json:"caseId"`
	TenantID string `json:"tenantId"`
	Reason   string `json:"reason"`
}

// PaymentEvent is the payload of TopicPaymentReceived.
type PaymentEvent struct {
	CaseID     string          `json:"caseId"`
	PlanID     string          `json:"planId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// PlanDefaultedEvent is the payload of TopicPlanDefaulted.
type PlanDefaultedEvent struct {
	PlanID string `json:"planId"`
	CaseID string `json:"caseId,omitempty"`
}

// CallUpdatedEvent is the payload of TopicCallUpdated.
type CallUpdatedEvent struct {
	CallID  string     `json:"callId"`
	CaseID  string     `json:"caseId"`
	Status  CallStatus `json:"status"`
	Outcome string     `json:"outcome,omitempty"`
}

// Case change reasons.
const (
	ReasonCaseCreated       = "case_created"
	ReasonDaysOverdue       = "days_overdue_recalculated"
	ReasonPaymentReceived   = "payment_received"
	ReasonStatusChanged     = "status_changed"
	ReasonCallOutcome       = "call_outcome"
	ReasonPlanStatusChanged = "plan_status_changed"
	ReasonCaseReopened      = "case_reopened"
)
