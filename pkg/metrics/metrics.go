// Package metrics exposes the Prometheus counters and histograms recorded
// by the ingestion pipeline, safety fabric, and action coordinator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngestedTotal counts successfully persisted events, labeled by
	// outcome ("accepted" | "duplicate").
	EventsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediator_events_ingested_total",
		Help: "Total events accepted by the ingestion pipeline, by outcome.",
	}, []string{"outcome"})

	// EventsRejectedTotal counts rejected submissions, labeled by rejection
	// code (spec §6 rejection categories).
	EventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediator_events_rejected_total",
		Help: "Total events rejected by the ingestion pipeline, by rejection code.",
	}, []string{"code"})

	// IngestionDuration records end-to-end pipeline latency.
	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "remediator_ingestion_duration_seconds",
		Help:    "Ingestion pipeline latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// BreakerStateGauge reports the current breaker state per vendor:
	// 0=CLOSED, 1=HALF_OPEN, 2=OPEN.
	BreakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remediator_breaker_state",
		Help: "Current circuit breaker state per vendor (0=closed,1=half_open,2=open).",
	}, []string{"vendor"})

	// RateLimitRejectionsTotal counts rate-limit rejections by key kind
	// ("tenant" | "tenant_vendor" | "workflow").
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediator_rate_limit_rejections_total",
		Help: "Total rate-limit rejections, by key kind.",
	}, []string{"key_kind"})

	// ActionsCreatedTotal counts actions created by the coordinator, by
	// kind.
	ActionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediator_actions_created_total",
		Help: "Total actions created by the action coordinator, by kind.",
	}, []string{"kind"})

	// ActionsCompletedTotal counts actions reaching a terminal status.
	ActionsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediator_actions_completed_total",
		Help: "Total actions reaching a terminal status, by kind and status.",
	}, []string{"kind", "status"})

	// ClassifierCallDuration records classifier.Adapter.Classify latency.
	ClassifierCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remediator_classifier_call_duration_seconds",
		Help:    "Classifier adapter call latency in seconds, by provider.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// CacheDegradedTotal counts gate decisions made without the shared
	// cache (spec §4.3's documented fail-open/fail-closed behavior when the
	// cache is unavailable), by gate ("rate_limit" | "breaker").
	CacheDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediator_cache_degraded_total",
		Help: "Total gate decisions made with the shared cache unavailable, by gate.",
	}, []string{"gate"})
)

// RecordIngested records an ingestion outcome.
func RecordIngested(outcome string) {
	EventsIngestedTotal.WithLabelValues(outcome).Inc()
}

// RecordRejected records a rejection by code.
func RecordRejected(code string) {
	EventsRejectedTotal.WithLabelValues(code).Inc()
}

// RecordIngestionDuration records pipeline latency.
func RecordIngestionDuration(d time.Duration) {
	IngestionDuration.Observe(d.Seconds())
}

// RecordBreakerState sets the breaker state gauge for vendor.
func RecordBreakerState(vendor string, stateValue float64) {
	BreakerStateGauge.WithLabelValues(vendor).Set(stateValue)
}

// RecordRateLimitRejection records a rate-limit rejection by key kind.
func RecordRateLimitRejection(keyKind string) {
	RateLimitRejectionsTotal.WithLabelValues(keyKind).Inc()
}

// RecordActionCreated records an action creation by kind.
func RecordActionCreated(kind string) {
	ActionsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordActionCompleted records a terminal action outcome.
func RecordActionCompleted(kind, status string) {
	ActionsCompletedTotal.WithLabelValues(kind, status).Inc()
}

// RecordClassifierCall records classifier latency by provider.
func RecordClassifierCall(provider string, d time.Duration) {
	ClassifierCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordCacheDegraded records a gate decision made without the cache.
func RecordCacheDegraded(gate string) {
	CacheDegradedTotal.WithLabelValues(gate).Inc()
}
