package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Broker metrics
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_messages_published_total",
			Help: "Total messages published",
		},
		[]string{"receiver", "type"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_messages_received_total",
			Help: "Total messages dequeued by participants",
		},
		[]string{"receiver"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_messages_dropped_total",
			Help: "Messages consumed without processing",
		},
		[]string{"participant", "reason"}, // "unknown_action", "uncorrelated", "cleared"
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "story_message_persist_failures_total",
			Help: "Message log writes that failed",
		},
	)

	SubscriberFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_subscriber_failures_total",
			Help: "Subscriber callbacks that errored, panicked or were shed",
		},
		[]string{"reason"}, // "error", "panic", "saturated"
	)

	// Pipeline metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_stage_executions_total",
			Help: "Worker task executions",
		},
		[]string{"agent", "action", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_stage_duration_seconds",
			Help:    "Worker task execution duration",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"agent", "action"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_tasks_total",
			Help: "Pipeline runs by terminal status",
		},
		[]string{"orchestrator", "status"}, // "distributed" or "inprocess"
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_task_duration_seconds",
			Help:    "End-to-end pipeline duration",
			Buckets: []float64{.1, 1, 5, 30, 60, 300, 900, 1800},
		},
		[]string{"orchestrator"},
	)

	PendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "story_pending_tasks",
			Help: "Pending task entries held by the distributed orchestrator",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	LogWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_message_log_latency_seconds",
			Help:    "Message log write latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"backend"},
	)
)
