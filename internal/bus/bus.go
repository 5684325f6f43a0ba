// Package bus provides event bus implementations for Kite.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// MetaTraceID is the metadata key carrying the publisher's trace id.
const MetaTraceID = "trace_id"

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// newMessage builds the envelope shared by both transports.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) (*domain.Message, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if tenantID == domain.AllTenants {
		return nil, fmt.Errorf("cannot publish to all tenants")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
	}
	return msg, nil
}
