// Package redis provides a Redis implementation of the quota.Store
// interface. Conditional consumes and resets run as Lua scripts so the
// check and the write are one atomic server-side operation.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopassist/chatgate/pkg/quota"
)

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "chatgate:").
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{KeyPrefix: "chatgate:"}
}

// Store implements quota.Store using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "chatgate:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Store) loadScripts() {
	// Consume one message: both counters must be below their limits at
	// execution time, then both increment together.
	s.scripts["consume"] = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('EXISTS', key) == 0 then
			return {-1}
		end

		local v = redis.call('HMGET', key, 'daily_used', 'daily_limit', 'monthly_used', 'monthly_limit')
		local dailyUsed = tonumber(v[1])
		local dailyLimit = tonumber(v[2])
		local monthlyUsed = tonumber(v[3])
		local monthlyLimit = tonumber(v[4])

		if dailyUsed >= dailyLimit or monthlyUsed >= monthlyLimit then
			return {0, dailyLimit - dailyUsed, monthlyLimit - monthlyUsed}
		end

		dailyUsed = redis.call('HINCRBY', key, 'daily_used', 1)
		monthlyUsed = redis.call('HINCRBY', key, 'monthly_used', 1)
		redis.call('HSET', key, 'updated_at', ARGV[1])
		return {1, dailyLimit - dailyUsed, monthlyLimit - monthlyUsed}
	`)

	// Zero the daily counter iff last_daily_reset is still the value the
	// caller observed.
	s.scripts["reset_daily"] = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('EXISTS', key) == 0 then
			return -1
		end
		if redis.call('HGET', key, 'last_daily_reset') ~= ARGV[1] then
			return 0
		end
		redis.call('HSET', key, 'daily_used', 0, 'last_daily_reset', ARGV[2], 'updated_at', ARGV[2])
		return 1
	`)

	// Zero the monthly counter iff the reset is still pending and the
	// subscription is still ACTIVE.
	s.scripts["reset_monthly"] = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('EXISTS', key) == 0 then
			return -1
		end
		if redis.call('HGET', key, 'status') ~= 'ACTIVE' then
			return 0
		end
		if redis.call('HGET', key, 'last_monthly_reset') ~= ARGV[1] then
			return 0
		end
		redis.call('HSET', key, 'monthly_used', 0, 'last_monthly_reset', ARGV[2], 'updated_at', ARGV[2])
		return 1
	`)
}

func (s *Store) subKey(tenantID string) string {
	return s.config.KeyPrefix + "sub:" + tenantID
}

func (s *Store) indexKey() string {
	return s.config.KeyPrefix + "tenants"
}

// GetSubscription implements quota.Store.
func (s *Store) GetSubscription(ctx context.Context, tenantID string) (*quota.Subscription, error) {
	fields, err := s.client.HGetAll(ctx, s.subKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, quota.ErrSubscriptionNotFound
	}
	return subscriptionFromHash(tenantID, fields)
}

// PutSubscription implements quota.Store.
func (s *Store) PutSubscription(ctx context.Context, sub *quota.Subscription) error {
	if sub == nil || sub.TenantID == "" {
		return quota.ErrInvalidSubscription
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.subKey(sub.TenantID), hashFromSubscription(sub))
	pipe.SAdd(ctx, s.indexKey(), sub.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put subscription: %w", err)
	}
	return nil
}

// ConsumeOne implements quota.Store via the consume Lua script.
func (s *Store) ConsumeOne(ctx context.Context, tenantID string) (*quota.ConsumeResult, error) {
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	raw, err := s.scripts["consume"].Run(ctx, s.client, []string{s.subKey(tenantID)}, now).Result()
	if err != nil {
		return nil, fmt.Errorf("redis consume script: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) == 0 {
		return nil, fmt.Errorf("redis consume script: unexpected reply %v", raw)
	}
	if asInt(vals[0]) == -1 {
		return nil, quota.ErrSubscriptionNotFound
	}

	res := &quota.ConsumeResult{Success: asInt(vals[0]) == 1}
	if len(vals) >= 3 {
		res.DailyRemaining = clampNonNegative(asInt(vals[1]))
		res.MonthlyRemaining = clampNonNegative(asInt(vals[2]))
	}
	return res, nil
}

// ResetDaily implements quota.Store.
func (s *Store) ResetDaily(ctx context.Context, tenantID string, prev, now time.Time) error {
	raw, err := s.scripts["reset_daily"].Run(ctx, s.client,
		[]string{s.subKey(tenantID)},
		strconv.FormatInt(prev.UTC().Unix(), 10),
		strconv.FormatInt(now.UTC().Unix(), 10),
	).Result()
	if err != nil {
		return fmt.Errorf("redis reset_daily script: %w", err)
	}
	if asInt(raw) == -1 {
		return quota.ErrSubscriptionNotFound
	}
	// 0 means another request reset first; that is fine.
	return nil
}

// ResetMonthly implements quota.Store.
func (s *Store) ResetMonthly(ctx context.Context, tenantID string, prev, now time.Time) error {
	raw, err := s.scripts["reset_monthly"].Run(ctx, s.client,
		[]string{s.subKey(tenantID)},
		strconv.FormatInt(prev.UTC().Unix(), 10),
		strconv.FormatInt(now.UTC().Unix(), 10),
	).Result()
	if err != nil {
		return fmt.Errorf("redis reset_monthly script: %w", err)
	}
	switch asInt(raw) {
	case -1:
		return quota.ErrSubscriptionNotFound
	case 0:
		return quota.ErrNotEligible
	}
	return nil
}

// ListActive implements quota.Store.
func (s *Store) ListActive(ctx context.Context) ([]*quota.Subscription, error) {
	tenantIDs, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	var subs []*quota.Subscription
	for _, tenantID := range tenantIDs {
		sub, err := s.GetSubscription(ctx, tenantID)
		if err == quota.ErrSubscriptionNotFound {
			continue // index entry outlived the hash
		}
		if err != nil {
			return nil, err
		}
		if sub.Status == quota.StatusActive {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Ping implements quota.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}
	return nil
}

func hashFromSubscription(sub *quota.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"id":                 sub.ID,
		"tenant_name":        sub.TenantName,
		"plan":               string(sub.Plan),
		"status":             string(sub.Status),
		"monthly_limit":      sub.MonthlyLimit,
		"monthly_used":       sub.MonthlyUsed,
		"daily_limit":        sub.DailyLimit,
		"daily_used":         sub.DailyUsed,
		"last_monthly_reset": sub.LastMonthlyReset.UTC().Unix(),
		"last_daily_reset":   sub.LastDailyReset.UTC().Unix(),
		"timezone":           sub.Timezone,
		"updated_at":         time.Now().UTC().Unix(),
	}
}

func subscriptionFromHash(tenantID string, fields map[string]string) (*quota.Subscription, error) {
	sub := &quota.Subscription{
		ID:         fields["id"],
		TenantID:   tenantID,
		TenantName: fields["tenant_name"],
		Plan:       quota.Plan(fields["plan"]),
		Status:     quota.Status(fields["status"]),
		Timezone:   fields["timezone"],
	}

	var err error
	if sub.MonthlyLimit, err = strconv.Atoi(fields["monthly_limit"]); err != nil {
		return nil, fmt.Errorf("parse monthly_limit: %w", err)
	}
	if sub.MonthlyUsed, err = strconv.Atoi(fields["monthly_used"]); err != nil {
		return nil, fmt.Errorf("parse monthly_used: %w", err)
	}
	if sub.DailyLimit, err = strconv.Atoi(fields["daily_limit"]); err != nil {
		return nil, fmt.Errorf("parse daily_limit: %w", err)
	}
	if sub.DailyUsed, err = strconv.Atoi(fields["daily_used"]); err != nil {
		return nil, fmt.Errorf("parse daily_used: %w", err)
	}

	sub.LastMonthlyReset = parseUnix(fields["last_monthly_reset"])
	sub.LastDailyReset = parseUnix(fields["last_daily_reset"])
	sub.UpdatedAt = parseUnix(fields["updated_at"])
	return sub, nil
}

func parseUnix(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func clampNonNegative(n int64) int {
	if n < 0 {
		return 0
	}
	return int(n)
}
