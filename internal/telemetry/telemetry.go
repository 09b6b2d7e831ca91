// Package telemetry defines the process's Prometheus metrics: promauto
// counter/histogram/gauge vectors registered in the default registry at
// package init. The Control API router does not expose a /metrics route.
// There is no distributed trace
// exporter here — one orchestrator process with no downstream RPC
// fan-out has no trace boundary worth exporting.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram the orchestrator exports.
var (
	ItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_items_processed_total",
			Help: "Total application items processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	ItemDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_item_duration_seconds",
			Help:    "Time from item_started to a terminal status, labeled by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_rate_limit_decisions_total",
			Help: "Rate Governor admission decisions, labeled by domain and decision.",
		},
		[]string{"domain", "decision"},
	)

	InterventionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_intervention_requests_total",
			Help: "Human intervention requests, labeled by kind and resolution.",
		},
		[]string{"kind", "resolution"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_sessions_active",
			Help: "Number of sessions currently running.",
		},
	)

	WorkerCrashesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_worker_crashes_total",
			Help: "Total panics recovered inside worker item processing.",
		},
	)
)
