// Package memory provides an in-memory implementation of the quota.Store
// interface. It is intended for testing and development; the mutex plays
// the role a server-side conditional update plays in the real backends.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopassist/chatgate/pkg/quota"
)

// Store implements quota.Store using an in-memory map.
type Store struct {
	mu   sync.RWMutex
	subs map[string]*quota.Subscription
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{subs: make(map[string]*quota.Subscription)}
}

// GetSubscription implements quota.Store.
func (s *Store) GetSubscription(ctx context.Context, tenantID string) (*quota.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, quota.ErrSubscriptionNotFound
	}

	// Return a copy to prevent external mutations.
	cp := *sub
	return &cp, nil
}

// PutSubscription implements quota.Store.
func (s *Store) PutSubscription(ctx context.Context, sub *quota.Subscription) error {
	if sub == nil || sub.TenantID == "" {
		return quota.ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	cp.UpdatedAt = time.Now().UTC()
	s.subs[sub.TenantID] = &cp
	return nil
}

// ConsumeOne implements quota.Store. Check and increment happen under one
// lock, so two concurrent consumes cannot pass a stale check together.
func (s *Store) ConsumeOne(ctx context.Context, tenantID string) (*quota.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, quota.ErrSubscriptionNotFound
	}

	if sub.DailyUsed >= sub.DailyLimit || sub.MonthlyUsed >= sub.MonthlyLimit {
		return &quota.ConsumeResult{
			Success:          false,
			DailyRemaining:   sub.DailyRemaining(),
			MonthlyRemaining: sub.MonthlyRemaining(),
		}, nil
	}

	sub.DailyUsed++
	sub.MonthlyUsed++
	sub.UpdatedAt = time.Now().UTC()

	return &quota.ConsumeResult{
		Success:          true,
		DailyRemaining:   sub.DailyRemaining(),
		MonthlyRemaining: sub.MonthlyRemaining(),
	}, nil
}

// ResetDaily implements quota.Store. Losing the timestamp race means another
// request already reset the day; that is a silent no-op.
func (s *Store) ResetDaily(ctx context.Context, tenantID string, prev, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return quota.ErrSubscriptionNotFound
	}
	if !sub.LastDailyReset.Equal(prev) {
		return nil
	}

	sub.DailyUsed = 0
	sub.LastDailyReset = now
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetMonthly implements quota.Store.
func (s *Store) ResetMonthly(ctx context.Context, tenantID string, prev, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return quota.ErrSubscriptionNotFound
	}
	if sub.Status != quota.StatusActive || !sub.LastMonthlyReset.Equal(prev) {
		return quota.ErrNotEligible
	}

	sub.MonthlyUsed = 0
	sub.LastMonthlyReset = now
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActive implements quota.Store.
func (s *Store) ListActive(ctx context.Context) ([]*quota.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []*quota.Subscription
	for _, sub := range s.subs {
		if sub.Status == quota.StatusActive {
			cp := *sub
			subs = append(subs, &cp)
		}
	}
	return subs, nil
}

// Ping implements quota.Store.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[string]*quota.Subscription)
}
