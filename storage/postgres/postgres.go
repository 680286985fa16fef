// Package postgres provides a PostgreSQL implementation of the quota.Store
// interface. Conditional consumes and resets are single UPDATE statements
// whose WHERE clause re-checks the precondition, so the database performs
// the check and the write atomically.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopassist/chatgate/pkg/quota"
)

// Schema is the DDL for the subscriptions table. Callers may apply it via
// EnsureSchema or through their own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	tenant_id          TEXT PRIMARY KEY,
	id                 TEXT NOT NULL,
	tenant_name        TEXT NOT NULL DEFAULT '',
	plan               TEXT NOT NULL,
	status             TEXT NOT NULL,
	monthly_limit      BIGINT NOT NULL,
	monthly_used       BIGINT NOT NULL DEFAULT 0,
	daily_limit        BIGINT NOT NULL,
	daily_used         BIGINT NOT NULL DEFAULT 0,
	last_monthly_reset TIMESTAMPTZ NOT NULL,
	last_daily_reset   TIMESTAMPTZ NOT NULL,
	timezone           TEXT NOT NULL DEFAULT 'UTC',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscriptions_status_idx ON subscriptions (status);
`

// Store implements quota.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store over an existing pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema applies the table DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const subscriptionColumns = `tenant_id, id, tenant_name, plan, status,
	monthly_limit, monthly_used, daily_limit, daily_used,
	last_monthly_reset, last_daily_reset, timezone, updated_at`

// GetSubscription implements quota.Store.
func (s *Store) GetSubscription(ctx context.Context, tenantID string) (*quota.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`,
		tenantID)
	return scanSubscription(row)
}

// PutSubscription implements quota.Store.
func (s *Store) PutSubscription(ctx context.Context, sub *quota.Subscription) error {
	if sub == nil || sub.TenantID == "" {
		return quota.ErrInvalidSubscription
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET
			id = EXCLUDED.id,
			tenant_name = EXCLUDED.tenant_name,
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			monthly_limit = EXCLUDED.monthly_limit,
			monthly_used = EXCLUDED.monthly_used,
			daily_limit = EXCLUDED.daily_limit,
			daily_used = EXCLUDED.daily_used,
			last_monthly_reset = EXCLUDED.last_monthly_reset,
			last_daily_reset = EXCLUDED.last_daily_reset,
			timezone = EXCLUDED.timezone,
			updated_at = now()`,
		sub.TenantID, sub.ID, sub.TenantName, string(sub.Plan), string(sub.Status),
		sub.MonthlyLimit, sub.MonthlyUsed, sub.DailyLimit, sub.DailyUsed,
		sub.LastMonthlyReset.UTC(), sub.LastDailyReset.UTC(), sub.Timezone)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

// ConsumeOne implements quota.Store. The WHERE clause re-checks both limits
// inside the UPDATE, so concurrent requests for one tenant serialize on the
// row and only those within the limits succeed.
func (s *Store) ConsumeOne(ctx context.Context, tenantID string) (*quota.ConsumeResult, error) {
	var dailyRemaining, monthlyRemaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE subscriptions
		 SET daily_used = daily_used + 1,
		     monthly_used = monthly_used + 1,
		     updated_at = now()
		 WHERE tenant_id = $1
		   AND daily_used < daily_limit
		   AND monthly_used < monthly_limit
		 RETURNING daily_limit - daily_used, monthly_limit - monthly_used`,
		tenantID).Scan(&dailyRemaining, &monthlyRemaining)
	if err == nil {
		return &quota.ConsumeResult{
			Success:          true,
			DailyRemaining:   dailyRemaining,
			MonthlyRemaining: monthlyRemaining,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume: %w", err)
	}

	// No row updated: either the tenant is unknown or a limit is already
	// exhausted. Distinguish with a plain read.
	sub, err := s.GetSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &quota.ConsumeResult{
		Success:          false,
		DailyRemaining:   sub.DailyRemaining(),
		MonthlyRemaining: sub.MonthlyRemaining(),
	}, nil
}

// ResetDaily implements quota.Store.
func (s *Store) ResetDaily(ctx context.Context, tenantID string, prev, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET daily_used = 0, last_daily_reset = $3, updated_at = now()
		 WHERE tenant_id = $1 AND last_daily_reset = $2`,
		tenantID, prev.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("reset daily: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race or unknown tenant; only the latter is an error.
		if _, err := s.GetSubscription(ctx, tenantID); err != nil {
			return err
		}
	}
	return nil
}

// ResetMonthly implements quota.Store.
func (s *Store) ResetMonthly(ctx context.Context, tenantID string, prev, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET monthly_used = 0, last_monthly_reset = $3, updated_at = now()
		 WHERE tenant_id = $1 AND last_monthly_reset = $2 AND status = $4`,
		tenantID, prev.UTC(), now.UTC(), string(quota.StatusActive))
	if err != nil {
		return fmt.Errorf("reset monthly: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSubscription(ctx, tenantID); err != nil {
			return err
		}
		return quota.ErrNotEligible
	}
	return nil
}

// ListActive implements quota.Store.
func (s *Store) ListActive(ctx context.Context) ([]*quota.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = $1`,
		string(quota.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var subs []*quota.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Ping implements quota.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (*quota.Subscription, error) {
	var sub quota.Subscription
	var plan, status string
	err := row.Scan(&sub.TenantID, &sub.ID, &sub.TenantName, &plan, &status,
		&sub.MonthlyLimit, &sub.MonthlyUsed, &sub.DailyLimit, &sub.DailyUsed,
		&sub.LastMonthlyReset, &sub.LastDailyReset, &sub.Timezone, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quota.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Plan = quota.Plan(plan)
	sub.Status = quota.Status(status)
	return &sub, nil
}
