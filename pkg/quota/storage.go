package quota

import (
	"context"
	"time"
)

// Store defines the interface for subscription persistence.
//
// ConsumeOne, ResetDaily and ResetMonthly must be implemented as single
// conditional operations executed inside the storage engine (Lua script,
// conditional UPDATE, mutex-guarded section), never as a read-modify-write
// performed by the caller. Two concurrent consumes for the same tenant must
// not both pass a stale check and increment past the limit.
type Store interface {
	// GetSubscription retrieves the subscription for a tenant.
	// Returns ErrSubscriptionNotFound when the tenant is unknown.
	GetSubscription(ctx context.Context, tenantID string) (*Subscription, error)

	// PutSubscription creates or replaces a subscription record.
	PutSubscription(ctx context.Context, sub *Subscription) error

	// ConsumeOne atomically increments both usage counters by one, but only
	// if both are still below their limits at execution time. On exhaustion
	// it returns Success=false with the current remaining counts and a nil
	// error; exhaustion is an expected outcome, not a failure.
	ConsumeOne(ctx context.Context, tenantID string) (*ConsumeResult, error)

	// ResetDaily zeroes DailyUsed and stamps LastDailyReset=now, but only if
	// LastDailyReset still equals prev. Losing that race means another
	// request already reset the day; the store returns nil in that case.
	ResetDaily(ctx context.Context, tenantID string, prev, now time.Time) error

	// ResetMonthly zeroes MonthlyUsed and stamps LastMonthlyReset=now, but
	// only if LastMonthlyReset still equals prev and the subscription is
	// ACTIVE. Returns ErrNotEligible when the precondition fails.
	ResetMonthly(ctx context.Context, tenantID string, prev, now time.Time) error

	// ListActive returns all subscriptions with status ACTIVE.
	ListActive(ctx context.Context) ([]*Subscription, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
