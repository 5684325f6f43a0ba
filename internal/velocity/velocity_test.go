package velocity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/cache"
	"github.com/opensource-finance/kite/internal/domain"
)

func TestContactLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	lru := cache.NewLRUCache(100).WithClock(func() time.Time { return now })
	defer lru.Close()

	svc := NewService(lru, 3, 24*time.Hour)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("AllowsUpToLimit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := svc.Allow(ctx, tenantID, "case-1"); err != nil {
				t.Fatalf("contact %d: unexpected error: %v", i+1, err)
			}
		}
		if err := svc.Allow(ctx, tenantID, "case-1"); !errors.Is(err, ErrContactLimit) {
			t.Errorf("expected ErrContactLimit, got %v", err)
		}
	})

	t.Run("CountsPerCase", func(t *testing.T) {
		if err := svc.Allow(ctx, tenantID, "case-2"); err != nil {
			t.Errorf("expected other case to be allowed, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if err := svc.Allow(ctx, "tenant-002", "case-1"); err != nil {
			t.Errorf("expected other tenant to be allowed, got %v", err)
		}
	})

	t.Run("WindowResets", func(t *testing.T) {
		now = now.Add(25 * time.Hour)
		if err := svc.Allow(ctx, tenantID, "case-1"); err != nil {
			t.Errorf("expected allowance after window, got %v", err)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if err := svc.Allow(ctx, "", "case-1"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestDisabledLimiter(t *testing.T) {
	lru := cache.NewLRUCache(10)
	defer lru.Close()
	ctx := context.Background()

	svc := NewService(lru, 0, time.Hour)
	for i := 0; i < 10; i++ {
		if err := svc.Allow(ctx, "tenant-001", "case-1"); err != nil {
			t.Fatalf("expected disabled limiter to allow, got %v", err)
		}
	}

	var nilSvc *Service
	if err := nilSvc.Allow(ctx, "tenant-001", "case-1"); err != nil {
		t.Errorf("expected nil limiter to allow, got %v", err)
	}
}

func TestReleaseReturnsBudget(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()
	ctx := context.Background()
	svc := NewService(lru, 2, time.Hour)

	if err := svc.Allow(ctx, "tenant-001", "case-1"); err != nil {
		t.Fatalf("first contact: %v", err)
	}
	if err := svc.Allow(ctx, "tenant-001", "case-1"); err != nil {
		t.Fatalf("second contact: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.Allow(ctx, "tenant-001", "case-1"); !errors.Is(err, ErrContactLimit) {
			t.Fatalf("expected ErrContactLimit, got %v", err)
		}
	}

	// Refused attempts are not counted, so one release frees exactly one contact.
	if err := svc.Release(ctx, "tenant-001", "case-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := svc.Allow(ctx, "tenant-001", "case-1"); err != nil {
		t.Errorf("expected released contact to be available, got %v", err)
	}
	if err := svc.Allow(ctx, "tenant-001", "case-1"); !errors.Is(err, ErrContactLimit) {
		t.Errorf("expected limit again, got %v", err)
	}

	var nilSvc *Service
	if err := nilSvc.Release(ctx, "tenant-001", "case-1"); err != nil {
		t.Errorf("expected nil limiter release to be a no-op, got %v", err)
	}
}
