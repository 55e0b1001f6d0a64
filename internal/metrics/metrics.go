package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_runs_started_total",
			Help: "Total number of consensus runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_runs_completed_total",
			Help: "Total number of consensus runs completed",
		},
		[]string{"status"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_runs_active",
			Help: "Number of consensus runs currently executing",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_run_duration_seconds",
			Help:    "Wall-clock duration of a consensus run",
			Buckets: prometheus.DefBuckets,
		},
	)

	RoundsExecuted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_rounds_executed",
			Help:    "Rounds executed per consensus run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	ConvergenceRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_convergence_rounds",
			Help:    "Round index at which convergence was detected",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Backend metrics
	BackendInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_backend_invocations_total",
			Help: "Total number of model backend invocations",
		},
		[]string{"model", "status"},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concord_backend_latency_seconds",
			Help:    "Model backend invocation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	BackendRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_backend_rate_limited_total",
			Help: "Backend invocations delayed or rejected by the rate limiter",
		},
		[]string{"model"},
	)

	// Run store metrics
	RunStoreCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_runstore_cache_hits_total",
			Help: "Total number of run store local cache hits",
		},
	)

	RunStoreCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_runstore_cache_misses_total",
			Help: "Total number of run store local cache misses",
		},
	)

	RunStoreCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_runstore_cache_size",
			Help: "Current number of results in the run store local cache",
		},
	)

	RunStoreCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_runstore_cache_evictions_total",
			Help: "Total number of results evicted from the local cache",
		},
	)

	// Audit metrics
	AuditEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_audit_events_recorded_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"sink", "status"},
	)
)

// Status label values for RunsCompleted.
const (
	StatusConverged    = "converged"
	StatusExhausted    = "exhausted"
	StatusTotalFailure = "total_failure"
)
