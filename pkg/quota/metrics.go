package quota

import "time"

// Metrics defines the interface for tracking quota and chat operations.
type Metrics interface {
	// RecordCheck records a limit check and its outcome.
	RecordCheck(tenantID string, reason DenyReason, duration time.Duration)

	// RecordConsumption records a consume attempt.
	RecordConsumption(tenantID string, success bool)

	// RecordDailyReset records a lazy daily reset applied on access.
	RecordDailyReset(tenantID string)

	// RecordMonthlyReset records a monthly reset execution outcome.
	RecordMonthlyReset(success bool)

	// RecordUpstreamAttempt records an attempt against the completion
	// service and whether it succeeded.
	RecordUpstreamAttempt(success bool)

	// RecordFallback records a request served by the rule-based responder.
	RecordFallback(reason string)

	// RecordStreamDuration records how long a chat stream was open.
	RecordStreamDuration(outcome string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCheck(tenantID string, reason DenyReason, duration time.Duration) {}
func (n *NoopMetrics) RecordConsumption(tenantID string, success bool)                        {}
func (n *NoopMetrics) RecordDailyReset(tenantID string)                                       {}
func (n *NoopMetrics) RecordMonthlyReset(success bool)                                        {}
func (n *NoopMetrics) RecordUpstreamAttempt(success bool)                                     {}
func (n *NoopMetrics) RecordFallback(reason string)                                           {}
func (n *NoopMetrics) RecordStreamDuration(outcome string, duration time.Duration)            {}
