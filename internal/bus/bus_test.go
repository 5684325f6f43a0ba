package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, tenantID, domain.TopicCaseChanged, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicCaseChanged, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.TenantID != tenantID {
				t.Errorf("expected tenantID '%s', got '%s'", tenantID, msg.TenantID)
			}
			if msg.ID == "" || msg.Timestamp == 0 {
				t.Error("expected envelope id and timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		_, _ = bus.Subscribe(ctx, "tenant-001", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		_, _ = bus.Subscribe(ctx, "tenant-002", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, "tenant-001", "isolation.topic", []byte("msg1"))
		waitFor(t, func() bool { return received1.Load() == 1 })

		time.Sleep(20 * time.Millisecond)
		if received2.Load() != 0 {
			t.Errorf("tenant2 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AllTenantsSubscription", func(t *testing.T) {
		var count atomic.Int32
		var tenants = make(chan string, 2)

		_, err := bus.Subscribe(ctx, domain.AllTenants, "wildcard.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			tenants <- msg.TenantID
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		_ = bus.Publish(ctx, "tenant-001", "wildcard.topic", nil)
		_ = bus.Publish(ctx, "tenant-002", "wildcard.topic", nil)
		waitFor(t, func() bool { return count.Load() == 2 })

		seen := map[string]bool{<-tenants: true, <-tenants: true}
		if !seen["tenant-001"] || !seen["tenant-002"] {
			t.Errorf("expected messages from both tenants, got %v", seen)
		}
	})

	t.Run("RejectsInvalidTenant", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := bus.Publish(ctx, domain.AllTenants, "topic", []byte("data")); err == nil {
			t.Error("expected error publishing to all tenants")
		}
		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, tenantID, "unsub.topic", nil)
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got %s", sub.Topic())
		}

		_ = bus.Publish(ctx, tenantID, "unsub.topic", nil)
		time.Sleep(20 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected no delivery after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var count atomic.Int32

		_, _ = bus.Subscribe(ctx, tenantID, "error.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return errors.New("boom")
		})

		_ = bus.Publish(ctx, tenantID, "error.topic", nil)
		_ = bus.Publish(ctx, tenantID, "error.topic", nil)
		waitFor(t, func() bool { return count.Load() == 2 })
	})
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan []byte, 1)
	_, _ = bus.Subscribe(ctx, "tenant-001", domain.TopicCaseChanged, func(ctx context.Context, msg *domain.Message) error {
		received <- msg.Payload
		return nil
	})

	event := domain.CaseChangedEvent{CaseID: "case-1", TenantID: "tenant-001", Reason: domain.ReasonCaseCreated}
	if err := PublishJSON(ctx, bus, "tenant-001", domain.TopicCaseChanged, event); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	select {
	case payload := <-received:
		want := `{"caseId":"case-1","tenantId":"tenant-001","reason":"case_created"}`
		if string(payload) != want {
			t.Errorf("expected %s, got %s", want, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestClosedBus(t *testing.T) {
	bus := NewChannelBus(10)
	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	ctx := context.Background()
	if err := bus.Publish(ctx, "tenant-001", "topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestSubject(t *testing.T) {
	if got := subject("tenant-001", domain.TopicCaseChanged); got != "kite.tenant-001.kite.case.changed" {
		t.Errorf("unexpected subject %s", got)
	}
	if got := subject(domain.AllTenants, domain.TopicCaseChanged); got != "kite.*.kite.case.changed" {
		t.Errorf("unexpected wildcard subject %s", got)
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("failed to create channel bus: %v", err)
	}
	defer b.Close()

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
