// Package reset classifies subscriptions for monthly quota resets and
// executes them, either on demand (admin trigger) or on a periodic sweep.
package reset

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shopassist/chatgate/pkg/quota"
)

// Bucket is the classification of a subscription with respect to its
// monthly reset.
type Bucket string

const (
	// BucketEligible: reset is due and the subscription is ACTIVE.
	BucketEligible Bucket = "eligibleForReset"
	// BucketIneligible: reset is due but the subscription is not ACTIVE.
	// Flagged for operator visibility, never auto-reset.
	BucketIneligible Bucket = "needsResetButIneligible"
	// BucketUpToDate: reset is not yet due.
	BucketUpToDate Bucket = "upToDate"
)

// Config holds scheduler configuration.
type Config struct {
	// IntervalDays overrides the calendar-month due rule with a fixed
	// N-day interval. Zero means "at least one calendar month elapsed".
	IntervalDays int

	// CronSpec schedules the periodic sweep (default "17 2 * * *",
	// once a night). Only used when Start is called.
	CronSpec string

	// Concurrency bounds batch fan-out (default 8).
	Concurrency int

	Logger  quota.Logger
	Metrics quota.Metrics
}

// Result is the outcome of a single reset execution.
type Result struct {
	TenantID string `json:"tenantId"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// BatchResult aggregates per-item outcomes of a batch execution.
type BatchResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Scheduler classifies and resets monthly usage counters.
type Scheduler struct {
	store  quota.Store
	config Config
	cron   *cron.Cron

	// now is swapped out in tests.
	now func() time.Time
}

// NewScheduler creates a reset scheduler over the given store.
func NewScheduler(store quota.Store, config Config) (*Scheduler, error) {
	if store == nil {
		return nil, quota.ErrStoreUnavailable
	}

	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &quota.NoopMetrics{}
	}
	if config.CronSpec == "" {
		config.CronSpec = "17 2 * * *"
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}

	return &Scheduler{
		store:  store,
		config: config,
		now:    time.Now,
	}, nil
}

// Classify places a subscription into exactly one bucket.
func (s *Scheduler) Classify(sub *quota.Subscription) Bucket {
	if !s.isDue(sub.LastMonthlyReset) {
		return BucketUpToDate
	}
	if sub.Status == quota.StatusActive {
		return BucketEligible
	}
	return BucketIneligible
}

// isDue reports whether enough time has elapsed since the last monthly
// reset. With IntervalDays unset this means at least one calendar month,
// preserving the day-of-month across short months.
func (s *Scheduler) isDue(lastReset time.Time) bool {
	now := s.now()
	if s.config.IntervalDays > 0 {
		return now.Sub(lastReset) >= time.Duration(s.config.IntervalDays)*24*time.Hour
	}
	return !now.Before(addMonthsSafe(lastReset, 1))
}

// ExecuteReset re-validates eligibility at execution time and zeroes the
// monthly counter. Classification done earlier may be stale; the store-level
// reset is additionally conditional on the observed LastMonthlyReset so a
// concurrent reset cannot be applied twice.
func (s *Scheduler) ExecuteReset(ctx context.Context, tenantID string) Result {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		s.config.Metrics.RecordMonthlyReset(false)
		return Result{TenantID: tenantID, Success: false, Message: err.Error()}
	}

	if s.Classify(sub) != BucketEligible {
		s.config.Metrics.RecordMonthlyReset(false)
		return Result{TenantID: tenantID, Success: false, Message: "not eligible"}
	}

	err = s.store.ResetMonthly(ctx, tenantID, sub.LastMonthlyReset, s.now())
	if errors.Is(err, quota.ErrNotEligible) {
		s.config.Metrics.RecordMonthlyReset(false)
		return Result{TenantID: tenantID, Success: false, Message: "not eligible"}
	}
	if err != nil {
		s.config.Metrics.RecordMonthlyReset(false)
		return Result{TenantID: tenantID, Success: false, Message: err.Error()}
	}

	s.config.Metrics.RecordMonthlyReset(true)
	s.config.Logger.Info("monthly usage reset",
		quota.Field{Key: "tenant_id", Value: tenantID})
	return Result{TenantID: tenantID, Success: true, Message: "monthly usage reset"}
}

// ExecuteResetMany resets a batch of tenants. With an empty id list it pulls
// all ACTIVE subscriptions and filters to those due. A failing item never
// aborts the batch; per-item outcomes are aggregated.
func (s *Scheduler) ExecuteResetMany(ctx context.Context, tenantIDs []string) (*BatchResult, error) {
	if len(tenantIDs) == 0 {
		subs, err := s.store.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if s.Classify(sub) == BucketEligible {
				tenantIDs = append(tenantIDs, sub.TenantID)
			}
		}
	}

	batch := &BatchResult{
		Total:   len(tenantIDs),
		Results: make([]Result, len(tenantIDs)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for i, tenantID := range tenantIDs {
		g.Go(func() error {
			res := s.ExecuteReset(gctx, tenantID)
			mu.Lock()
			batch.Results[i] = res
			if res.Success {
				batch.Successful++
			} else {
				batch.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only observes ctx cancellation.
	_ = g.Wait()

	s.config.Logger.Info("batch reset finished",
		quota.Field{Key: "total", Value: batch.Total},
		quota.Field{Key: "successful", Value: batch.Successful},
		quota.Field{Key: "failed", Value: batch.Failed})
	return batch, nil
}

// Start begins the periodic sweep. It is a no-op if already started.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.config.CronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.ExecuteResetMany(ctx, nil); err != nil {
			s.config.Logger.Error("periodic reset sweep failed",
				quota.Field{Key: "error", Value: err.Error()})
		}
	})
	if err != nil {
		return err
	}

	s.cron = c
	c.Start()
	return nil
}

// Stop halts the periodic sweep and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}
