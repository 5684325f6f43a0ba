// Package velocity caps how often a debt case can be contacted.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// ErrContactLimit is returned when a case has used its contact budget for the window.
var ErrContactLimit = errors.New("contact limit reached")

// Service counts outbound contacts per case in a sliding window.
type Service struct {
	cache  domain.Cache
	limit  int
	window time.Duration
}

// NewService creates a contact limiter. A limit of 0 disables it.
func NewService(cache domain.Cache, limit int, window time.Duration) *Service {
	return &Service{
		cache:  cache,
		limit:  limit,
		window: window,
	}
}

// Allow reserves one contact for the case. It returns ErrContactLimit once
// the case has been contacted limit times within the window; a refused
// reservation is handed back so it does not count.
func (s *Service) Allow(ctx context.Context, tenantID, caseID string) error {
	if tenantID == "" || caseID == "" {
		return fmt.Errorf("%w: tenantID and caseID are required", domain.ErrInvalidInput)
	}
	if s == nil || s.limit <= 0 || s.cache == nil {
		return nil
	}

	count, err := s.cache.IncrementCounter(ctx, tenantID, contactKey(caseID), s.window)
	if err != nil {
		return fmt.Errorf("failed to count contacts: %w", err)
	}
	if count > int64(s.limit) {
		if err := s.Release(ctx, tenantID, caseID); err != nil {
			return err
		}
		return fmt.Errorf("%w: case %s contacted %d times in %s", ErrContactLimit, caseID, count-1, s.window)
	}
	return nil
}

// Release returns a reservation taken by Allow for a contact that never
// went out.
func (s *Service) Release(ctx context.Context, tenantID, caseID string) error {
	if s == nil || s.limit <= 0 || s.cache == nil {
		return nil
	}
	if _, err := s.cache.DecrementCounter(ctx, tenantID, contactKey(caseID)); err != nil {
		return fmt.Errorf("failed to release contact: %w", err)
	}
	return nil
}

func contactKey(caseID string) string {
	return domain.CacheKeyContacts + caseID
}
