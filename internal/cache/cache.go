package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

const defaultNearTTL = 30 * time.Second

// New builds the cache named by cfg.Type. "memory" keeps everything in
// process. "redis" shares snapshots and counters between instances, fronted
// by a short-lived LRU when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		shared, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect shared cache: %w", err)
		}
		if !cfg.EnableTwoPhase {
			return shared, nil
		}
		return layered(NewLRUCache(cfg.LocalMaxSize), shared, cfg.LocalTTL), nil
	}
	return nil, fmt.Errorf("cache type %q not supported", cfg.Type)
}

// TwoPhaseCache serves rule snapshots from a near LRU and falls back to the
// shared store. Near entries live at most nearTTL, which bounds how long an
// instance can evaluate cases against rules another instance already changed.
// Counters never touch the near layer.
type TwoPhaseCache struct {
	near    *LRUCache
	shared  domain.Cache
	nearTTL time.Duration
}

// NewTwoPhaseCache connects to Redis and fronts it with an LRU.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	shared, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("connect shared cache: %w", err)
	}
	return layered(NewLRUCache(cfg.LocalMaxSize), shared, cfg.LocalTTL), nil
}

func layered(near *LRUCache, shared domain.Cache, nearTTL time.Duration) *TwoPhaseCache {
	if nearTTL <= 0 {
		nearTTL = defaultNearTTL
	}
	return &TwoPhaseCache{near: near, shared: shared, nearTTL: nearTTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if snap, err := c.near.Get(ctx, tenantID, key); err != nil || snap != nil {
		return snap, err
	}
	snap, err := c.shared.Get(ctx, tenantID, key)
	if err != nil || snap == nil {
		return nil, err
	}
	// A failed near write only costs the next read a round trip.
	_ = c.near.Set(ctx, tenantID, key, snap, c.nearTTL)
	return snap, nil
}

// Set writes the shared copy first so a near entry never outlives a write
// that failed to land.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, tenantID, key, value, ttl); err != nil {
		return err
	}
	return c.near.Set(ctx, tenantID, key, value, min(ttl, c.nearTTL))
}

// Delete drops both copies. Near copies held by other instances age out
// within nearTTL.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	return errors.Join(
		c.near.Delete(ctx, tenantID, key),
		c.shared.Delete(ctx, tenantID, key),
	)
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.shared.IncrementCounter(ctx, tenantID, key, window)
}

func (c *TwoPhaseCache) DecrementCounter(ctx context.Context, tenantID string, key string) (int64, error) {
	return c.shared.DecrementCounter(ctx, tenantID, key)
}

// Ping checks the shared store; the near layer cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.shared.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache unreachable: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.near.Close(), c.shared.Close())
}

// Stats reports near-layer occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.near.Stats()
}
