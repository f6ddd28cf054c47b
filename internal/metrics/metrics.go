package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record store metrics
var (
	// StoreOpsTotal tracks record store operations by operation and status
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_store_operations_total",
			Help: "Total record store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// StoreOpDuration tracks record store operation latency in seconds
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "record_store_operation_duration_seconds",
			Help:    "Record store operation duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// StoreConflictsTotal tracks conditional updates rejected by a stale version tag
	StoreConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "record_store_version_conflicts_total",
			Help: "Total conditional updates rejected due to a stale version tag",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Token metrics
var (
	// TokenAcquisitionsTotal tracks token acquisitions by mode (cached/silent/interactive) and status
	TokenAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_acquisitions_total",
			Help: "Total access token acquisitions by mode and status",
		},
		[]string{"mode", "status"},
	)

	// ActiveSessions tracks the number of established identity sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_sessions_active",
			Help: "Number of currently established identity sessions",
		},
	)
)

// Workflow metrics
var (
	// RequestsSubmittedTotal tracks travel request submissions by status
	RequestsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travel_requests_submitted_total",
			Help: "Total travel request submissions by status",
		},
		[]string{"status"},
	)

	// RequestTransitionsTotal tracks lifecycle transitions by target state and status
	RequestTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travel_request_transitions_total",
			Help: "Total lifecycle transitions by target state and status",
		},
		[]string{"target", "status"},
	)

	// BatchDispatchesTotal tracks batch dispatch runs by outcome (done/partial/failed)
	BatchDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_dispatches_total",
			Help: "Total batch dispatch runs by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDispatchSize tracks the number of records per batch dispatch
	BatchDispatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_dispatch_size",
			Help:    "Number of selected records per batch dispatch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	// MailDraftsCreatedTotal tracks mail drafts created by status
	MailDraftsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_drafts_created_total",
			Help: "Total transport mail drafts created by status",
		},
		[]string{"status"},
	)
)
