// Package prommetrics implements quota.Metrics using Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shopassist/chatgate/pkg/quota"
)

// Metrics implements quota.Metrics using Prometheus.
type Metrics struct {
	checksTotal        *prometheus.CounterVec
	checkDuration      prometheus.Histogram
	consumptionTotal   *prometheus.CounterVec
	dailyResetsTotal   prometheus.Counter
	monthlyResetsTotal *prometheus.CounterVec
	upstreamAttempts   *prometheus.CounterVec
	fallbacksTotal     *prometheus.CounterVec
	streamDuration     *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation registered
// against reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_checks_total",
			Help:      "Total number of limit checks by outcome.",
		}, []string{"reason"}),

		checkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limit_check_duration_seconds",
			Help:      "Latency of limit checks.",
			Buckets:   prometheus.DefBuckets,
		}),

		consumptionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_consumption_total",
			Help:      "Total number of quota consume attempts.",
		}, []string{"success"}),

		dailyResetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_resets_total",
			Help:      "Total number of lazy daily resets applied on access.",
		}),

		monthlyResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monthly_resets_total",
			Help:      "Total number of monthly reset executions.",
		}, []string{"success"}),

		upstreamAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Total number of attempts against the completion service.",
		}, []string{"success"}),

		fallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_responses_total",
			Help:      "Total number of requests served by the rule-based responder.",
		}, []string{"reason"}),

		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_stream_duration_seconds",
			Help:      "Duration chat streams were open.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordCheck(tenantID string, reason quota.DenyReason, duration time.Duration) {
	m.checksTotal.WithLabelValues(string(reason)).Inc()
	m.checkDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordConsumption(tenantID string, success bool) {
	m.consumptionTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordDailyReset(tenantID string) {
	m.dailyResetsTotal.Inc()
}

func (m *Metrics) RecordMonthlyReset(success bool) {
	m.monthlyResetsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordUpstreamAttempt(success bool) {
	m.upstreamAttempts.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordFallback(reason string) {
	m.fallbacksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordStreamDuration(outcome string, duration time.Duration) {
	m.streamDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
