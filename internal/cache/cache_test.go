package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func TestLRUCache(t *testing.T) {
	clock := newClock()
	cache := NewLRUCache(100).WithClock(clock.Now)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, domain.CacheKeyActiveRules, []byte("[]"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, domain.CacheKeyActiveRules)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "[]" {
			t.Errorf("expected '[]', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Second)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.Advance(11 * time.Second)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' is the least recently used
		_, _ = small.Get(ctx, tenantID, "a")
		_ = small.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
		if size, capacity := small.Stats(); size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.IncrementCounter(ctx, "", "key", time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestLRUCounter(t *testing.T) {
	clock := newClock()
	cache := NewLRUCache(100).WithClock(clock.Now)
	ctx := context.Background()

	t.Run("IncrementsWithinWindow", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			n, err := cache.IncrementCounter(ctx, "tenant-001", "contacts:case-1", time.Hour)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if n != i {
				t.Errorf("expected %d, got %d", i, n)
			}
		}
	})

	t.Run("ResetsAfterWindow", func(t *testing.T) {
		clock.Advance(61 * time.Minute)
		n, _ := cache.IncrementCounter(ctx, "tenant-001", "contacts:case-1", time.Hour)
		if n != 1 {
			t.Errorf("expected counter to restart at 1, got %d", n)
		}
	})

	t.Run("DecrementTakesBackOne", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, "tenant-001", "contacts:case-2", time.Hour)
		_, _ = cache.IncrementCounter(ctx, "tenant-001", "contacts:case-2", time.Hour)

		n, err := cache.DecrementCounter(ctx, "tenant-001", "contacts:case-2")
		if err != nil || n != 1 {
			t.Fatalf("expected 1 after decrement, got %d (%v)", n, err)
		}
		if n, _ := cache.DecrementCounter(ctx, "tenant-001", "contacts:case-2"); n != 0 {
			t.Errorf("expected 0, got %d", n)
		}
		if n, _ := cache.DecrementCounter(ctx, "tenant-001", "contacts:case-2"); n != 0 {
			t.Errorf("expected counter to stay at 0, got %d", n)
		}
		if n, _ := cache.IncrementCounter(ctx, "tenant-001", "contacts:case-2", time.Hour); n != 1 {
			t.Errorf("expected fresh counter at 1, got %d", n)
		}
	})

	t.Run("DecrementAfterWindowIsNoop", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, "tenant-001", "contacts:case-3", time.Minute)
		clock.Advance(2 * time.Minute)
		if n, _ := cache.DecrementCounter(ctx, "tenant-001", "contacts:case-3"); n != 0 {
			t.Errorf("expected expired counter to read 0, got %d", n)
		}
		if _, err := cache.DecrementCounter(ctx, "", "contacts:case-3"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = cache.IncrementCounter(ctx, "tenant-001", "burst", time.Hour)
			}()
		}
		wg.Wait()

		n, _ := cache.IncrementCounter(ctx, "tenant-001", "burst", time.Hour)
		if n != 51 {
			t.Errorf("expected 51, got %d", n)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	shared := NewLRUCache(100)
	tp := layered(NewLRUCache(10), shared, time.Minute)

	t.Run("ReadThroughFillsNearLayer", func(t *testing.T) {
		_ = shared.Set(ctx, "tenant-001", "k", []byte("v"), time.Hour)

		val, err := tp.Get(ctx, "tenant-001", "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("expected 'v', got %q (%v)", val, err)
		}

		_ = shared.Delete(ctx, "tenant-001", "k")
		val, _ = tp.Get(ctx, "tenant-001", "k")
		if string(val) != "v" {
			t.Error("expected near layer to serve after shared delete")
		}
	})

	t.Run("DeleteClearsBothLayers", func(t *testing.T) {
		_ = tp.Set(ctx, "tenant-001", "rules", []byte("x"), time.Hour)
		_ = tp.Delete(ctx, "tenant-001", "rules")

		if val, _ := tp.Get(ctx, "tenant-001", "rules"); val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("CountersStayShared", func(t *testing.T) {
		_, _ = tp.IncrementCounter(ctx, "tenant-001", "c", time.Hour)
		n, _ := shared.IncrementCounter(ctx, "tenant-001", "c", time.Hour)
		if n != 2 {
			t.Errorf("expected counter in shared layer, got %d", n)
		}
		if n, _ := tp.DecrementCounter(ctx, "tenant-001", "c"); n != 1 {
			t.Errorf("expected decrement in shared layer, got %d", n)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
		if err != nil {
			t.Fatalf("failed to create memory cache: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
