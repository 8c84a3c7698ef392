package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_gateway_requests_total",
			Help: "Provider calls by provider and outcome (ok, error, rate_limited, breaker_open)",
		},
		[]string{"provider", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "impactwatch_gateway_request_duration_seconds",
			Help:    "Duration of provider calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_gateway_retries_total",
			Help: "Retried provider attempts",
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_gateway_cache_lookups_total",
			Help: "Response cache lookups by tier (l1, l2) and result (fresh, stale, miss)",
		},
		[]string{"tier", "result"},
	)

	DegradedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_gateway_degraded_responses_total",
			Help: "Stale cached values served because the provider failed",
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impactwatch_gateway_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	// Normalization and dedup metrics
	SignalsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_signals_normalized_total",
			Help: "Raw items normalized by source",
		},
		[]string{"source"},
	)

	SignalsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_signals_rejected_total",
			Help: "Raw items rejected by reason",
		},
		[]string{"reason"},
	)

	DedupOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_dedup_outcomes_total",
			Help: "Dedup outcomes (created, exact, fuzzy, seen)",
		},
		[]string{"outcome"},
	)

	ActiveCanonicalSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactwatch_dedup_active_canonical_signals",
			Help: "Canonical signals held inside the dedup window",
		},
	)

	// Extraction, rules and cards
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_extractions_total",
			Help: "Extraction results by outcome (ok, repaired, unclassified, failed)",
		},
		[]string{"outcome"},
	)

	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_rule_matches_total",
			Help: "Rule evaluations by matched rule ID (fallback when none matched)",
		},
		[]string{"rule_id"},
	)

	CardsAssembled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_cards_assembled_total",
			Help: "Impact card assembly by action (created, appended, refreshed) and risk level",
		},
		[]string{"action", "risk_level"},
	)

	ReferenceReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_reference_reloads_total",
			Help: "Reference data reloads by table and result",
		},
		[]string{"table", "result"},
	)

	// Deep-dive jobs
	DeepDiveJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_deepdive_jobs_total",
			Help: "Deep-dive job transitions by status",
		},
		[]string{"status"},
	)

	// Pipeline cycles
	WatchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatch_watch_cycles_total",
			Help: "ProcessWatch cycles by result (ok, degraded, unavailable, rate_limited, error)",
		},
		[]string{"result"},
	)

	WatchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "impactwatch_watch_cycle_duration_seconds",
			Help:    "Duration of one ProcessWatch cycle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactwatch_retry_queue_depth",
			Help: "Watches waiting for a delayed retry after rate limiting",
		},
	)

	DLQWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "impactwatch_dlq_writes_total",
			Help: "Rejected items written to the dead letter queue",
		},
	)

	IndexErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "impactwatch_search_index_errors_total",
			Help: "Documents that failed to index",
		},
	)
)
