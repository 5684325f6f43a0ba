package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kite/internal/domain"
)

const subjectPrefix = "kite"

// NATSBus implements EventBus using NATS core subjects of the form
// kite.<tenant>.<topic>. AllTenants subscriptions use the "*" token and join
// the configured queue group.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[*natsSubscription]struct{}
	cfg  domain.EventBusConfig
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to NATS, retrying up to NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("kite"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl())

	return &NATSBus{
		conn: conn,
		subs: make(map[*natsSubscription]struct{}),
		cfg:  cfg,
	}, nil
}

// Publish sends a JSON envelope to the tenant's subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	msg, err := newMessage(ctx, tenantID, topic, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(subject(tenantID, topic), data)
}

// Subscribe registers a handler for a tenant subject or, with AllTenants,
// for the topic across tenants.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	cb := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	subj := subject(tenantID, topic)
	var ns *nats.Subscription
	var err error
	if tenantID == domain.AllTenants && b.cfg.NATSQueue != "" {
		ns, err = b.conn.QueueSubscribe(subj, b.cfg.NATSQueue, cb)
	} else {
		ns, err = b.conn.Subscribe(subj, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	sub := &natsSubscription{topic: topic, sub: ns, bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	return b.conn.Drain()
}

// subject maps a tenant topic onto a NATS subject. AllTenants becomes the
// single-token wildcard.
func subject(tenantID, topic string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, tenantID, topic)
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
