package quota

import "time"

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanGrowth  Plan = "growth"
	PlanScale   Plan = "scale"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusActive is a paying, serviceable subscription.
	StatusActive Status = "ACTIVE"
	// StatusTrial is serviceable but excluded from automatic monthly resets.
	StatusTrial Status = "TRIAL"
	// StatusCancelled is no longer serviceable.
	StatusCancelled Status = "CANCELLED"
	// StatusExpired is no longer serviceable.
	StatusExpired Status = "EXPIRED"
)

// CanServe reports whether a subscription in this status may send messages.
// Every caller that needs "active enough to serve" must go through this
// predicate rather than comparing status strings.
func (s Status) CanServe() bool {
	return s == StatusActive || s == StatusTrial
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrial, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Subscription is the quota record governing a single tenant.
// The quota engine and the reset scheduler are its only mutators.
type Subscription struct {
	ID         string
	TenantID   string
	TenantName string
	Plan       Plan
	Status     Status

	// MonthlyUsed is only incremented by ConsumeOne and only zeroed by the
	// reset scheduler. DailyUsed is zeroed at the tenant's local midnight.
	MonthlyLimit int
	MonthlyUsed  int
	DailyLimit   int
	DailyUsed    int

	LastMonthlyReset time.Time
	LastDailyReset   time.Time

	// Timezone is the IANA identifier used to locate the tenant's midnight.
	Timezone string

	UpdatedAt time.Time
}

// DailyRemaining returns the daily allowance left, clamped at zero.
func (s *Subscription) DailyRemaining() int {
	return remaining(s.DailyLimit, s.DailyUsed)
}

// MonthlyRemaining returns the monthly allowance left, clamped at zero.
func (s *Subscription) MonthlyRemaining() int {
	return remaining(s.MonthlyLimit, s.MonthlyUsed)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

// DenyReason explains why CheckLimits denied a request.
type DenyReason string

const (
	DenyNone            DenyReason = "NONE"
	DenyDailyExceeded   DenyReason = "DAILY_EXCEEDED"
	DenyMonthlyExceeded DenyReason = "MONTHLY_EXCEEDED"
	DenyInactive        DenyReason = "INACTIVE"
)

// LimitType returns the wire-level limit type ("daily" or "monthly") for a
// deny reason, or "" when the reason is not a limit.
func (r DenyReason) LimitType() string {
	switch r {
	case DenyDailyExceeded:
		return "daily"
	case DenyMonthlyExceeded:
		return "monthly"
	}
	return ""
}

// CheckResult is the outcome of a side-effect-free limit check.
type CheckResult struct {
	Allowed bool
	Reason  DenyReason

	DailyRemaining   int
	MonthlyRemaining int

	// Subscription is the record observed during the check. Nil when the
	// tenant has no subscription.
	Subscription *Subscription
}

// ConsumeResult is the outcome of an atomic consume attempt.
type ConsumeResult struct {
	Success          bool
	DailyRemaining   int
	MonthlyRemaining int
}

// Config holds quota engine configuration.
type Config struct {
	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking quota operations (default: NoopMetrics).
	Metrics Metrics

	// DefaultTimezone is used when a subscription carries no timezone
	// (default: UTC).
	DefaultTimezone string
}
