package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_events_ingested_total",
			Help: "Total number of activity events received",
		},
		[]string{"logger"},
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_rule_evaluations_total",
			Help: "Total number of alert rule evaluations by result",
		},
		[]string{"kind", "result"},
	)

	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_rule_matches_total",
			Help: "Total number of enabled rules matched by an event",
		},
		[]string{"kind"},
	)

	InvalidConditions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_invalid_conditions_total",
			Help: "Evaluations that encountered a malformed condition node",
		},
	)

	EvaluationPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_evaluation_panics_total",
			Help: "Evaluations aborted by a recovered panic",
		},
	)

	UserRoleLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_user_role_lookups_total",
			Help: "User directory lookups by outcome",
		},
		[]string{"outcome"},
	)

	UserRoleCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_user_role_cache_hits_total",
			Help: "User role cache hits by tier",
		},
		[]string{"tier"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_notifications_sent_total",
			Help: "Notifications delivered by destination type",
		},
		[]string{"type"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_notifications_failed_total",
			Help: "Notification deliveries that failed by destination type and reason",
		},
		[]string{"type", "reason"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronicle_event_processing_duration_seconds",
			Help:    "Time taken to match an event against the rule set and dispatch",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronicle_worker_pool_active_workers",
			Help: "Workers currently executing a task",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronicle_worker_pool_queue_size",
			Help: "Tasks waiting in the worker pool queue",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_worker_pool_tasks_processed_total",
			Help: "Tasks completed by the worker pool",
		},
		[]string{"pool", "status"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_cache_errors_total",
			Help: "Cache operation failures by cache and operation",
		},
		[]string{"cache", "operation"},
	)

	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronicle_sqlite_pool_open_connections",
			Help: "Open SQLite connections by pool",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronicle_sqlite_pool_in_use",
			Help: "SQLite connections currently in use by pool",
		},
		[]string{"pool"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_api_requests_total",
			Help: "API requests by route, method and status code",
		},
		[]string{"route", "method", "code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronicle_api_request_duration_seconds",
			Help:    "API request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_api_rate_limited_total",
			Help: "API requests rejected by the per-client rate limiter",
		},
	)
)
