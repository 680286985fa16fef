// Package quota enforces per-tenant daily and monthly message allowances.
//
// The engine splits enforcement into two calls: a side-effect-free
// CheckLimits before the expensive upstream work, and an atomic ConsumeOne
// after a response has been produced. The pair is deliberately not one
// locked operation spanning the whole request; the upstream call can take
// seconds and a lock held that long would serialize all traffic for a
// tenant. A request may therefore pass CheckLimits and still lose the race
// to a concurrent ConsumeOne; the caller must treat its own failed
// ConsumeOne as "do not double-charge, log and proceed".
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/shopassist/chatgate/pkg/localtime"
)

// Engine evaluates and consumes tenant message quotas.
type Engine struct {
	store  Store
	config Config

	// now is swapped out in tests.
	now func() time.Time
}

// NewEngine creates a quota engine backed by the given store.
func NewEngine(store Store, config Config) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.DefaultTimezone == "" {
		config.DefaultTimezone = "UTC"
	}

	return &Engine{
		store:  store,
		config: config,
		now:    time.Now,
	}, nil
}

// CheckLimits reports whether a tenant may send a message right now.
// Evaluation order: subscription exists and can serve, then the daily
// counter, then the monthly counter. The call is side-effect free except
// for the lazy daily reset applied when the tenant has crossed its local
// midnight since the last reset.
func (e *Engine) CheckLimits(ctx context.Context, tenantID string) (*CheckResult, error) {
	start := e.now()

	sub, err := e.subscriptionForToday(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		e.config.Metrics.RecordCheck(tenantID, DenyInactive, e.now().Sub(start))
		return &CheckResult{Allowed: false, Reason: DenyInactive}, nil
	}
	if err != nil {
		return nil, err
	}

	res := &CheckResult{
		Reason:           DenyNone,
		DailyRemaining:   sub.DailyRemaining(),
		MonthlyRemaining: sub.MonthlyRemaining(),
		Subscription:     sub,
	}

	switch {
	case !sub.Status.CanServe():
		res.Reason = DenyInactive
	case sub.DailyUsed >= sub.DailyLimit:
		res.Reason = DenyDailyExceeded
	case sub.MonthlyUsed >= sub.MonthlyLimit:
		res.Reason = DenyMonthlyExceeded
	default:
		res.Allowed = true
	}

	e.config.Metrics.RecordCheck(tenantID, res.Reason, e.now().Sub(start))
	return res, nil
}

// ConsumeOne charges one message against both counters. The increment is a
// single conditional operation inside the store, so concurrent requests for
// the same tenant cannot double-increment past a limit. Exhaustion at
// execution time yields Success=false with no mutation.
func (e *Engine) ConsumeOne(ctx context.Context, tenantID string) (*ConsumeResult, error) {
	if _, err := e.subscriptionForToday(ctx, tenantID); err != nil {
		return nil, err
	}

	res, err := e.store.ConsumeOne(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	e.config.Metrics.RecordConsumption(tenantID, res.Success)
	if !res.Success {
		e.config.Logger.Warn("consume lost race to concurrent request",
			Field{Key: "tenant_id", Value: tenantID})
	}
	return res, nil
}

// Timezone returns the effective timezone for a subscription.
func (e *Engine) Timezone(sub *Subscription) string {
	if sub == nil || sub.Timezone == "" {
		return e.config.DefaultTimezone
	}
	return sub.Timezone
}

// subscriptionForToday loads the subscription and applies the lazy daily
// reset when the tenant's local calendar date has advanced past
// LastDailyReset. Daily resets are applied on access rather than by a
// global sweep; a sweep cannot cheaply know every tenant's local midnight.
func (e *Engine) subscriptionForToday(ctx context.Context, tenantID string) (*Subscription, error) {
	sub, err := e.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tz := e.Timezone(sub)
	now := e.now()

	newDay, err := localtime.IsNewLocalDayAt(sub.LastDailyReset, tz, now)
	if err != nil {
		e.config.Logger.Warn("invalid subscription timezone, using UTC",
			Field{Key: "tenant_id", Value: tenantID},
			Field{Key: "timezone", Value: tz})
		newDay, _ = localtime.IsNewLocalDayAt(sub.LastDailyReset, "UTC", now)
	}
	if !newDay {
		return sub, nil
	}

	// Conditional on the stale timestamp: if a concurrent request resets
	// first, this call is a no-op and both observe a fresh day.
	if err := e.store.ResetDaily(ctx, tenantID, sub.LastDailyReset, now); err != nil {
		return nil, err
	}
	e.config.Metrics.RecordDailyReset(tenantID)
	e.config.Logger.Debug("daily usage reset on access",
		Field{Key: "tenant_id", Value: tenantID},
		Field{Key: "timezone", Value: tz})

	return e.store.GetSubscription(ctx, tenantID)
}
