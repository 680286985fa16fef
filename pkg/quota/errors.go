package quota

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a tenant has no subscription record.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrQuotaExceeded is returned by stores when a conditional consume fails.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotEligible is returned when a conditional reset finds its
	// precondition no longer holds.
	ErrNotEligible = errors.New("not eligible")

	// ErrStoreUnavailable is returned when the record store is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidSubscription is returned for records missing identity fields.
	ErrInvalidSubscription = errors.New("invalid subscription")
)
