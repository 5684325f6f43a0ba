package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
)

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus. Delivery is at-most-once: a full
// subscriber buffer drops the message for that subscriber.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string]map[string]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string]map[string]*channelSubscription),
	}
}

// Publish delivers a message to the tenant's subscribers and to AllTenants subscribers.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	msg, err := newMessage(ctx, tenantID, topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, key := range []string{makeKey(tenantID, topic), makeKey(domain.AllTenants, topic)} {
		for _, sub := range b.subscriptions[key] {
			select {
			case sub.msgCh <- msg:
			case <-sub.ctx.Done():
			default:
				slog.Warn("subscriber buffer full, dropping message",
					"topic", topic,
					"tenant_id", tenantID,
					"message_id", msg.ID,
				)
			}
		}
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		key:     makeKey(tenantID, topic),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	if b.subscriptions[sub.key] == nil {
		b.subscriptions[sub.key] = make(map[string]*channelSubscription)
	}
	b.subscriptions[sub.key][sub.id] = sub

	go sub.run()

	return sub, nil
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Buffered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string]map[string]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscriptions[sub.key]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subscriptions, sub.key)
		}
	}
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}

func makeKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}
