package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token metrics
var (
	TokenExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busclient_token_exchanges_total",
			Help: "Total number of OAuth token exchanges by result",
		},
		[]string{"result"}, // success, failure
	)

	TokenCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busclient_token_cache_hits_total",
			Help: "Total number of token requests served from the cache",
		},
	)
)

// Queue transport metrics
var (
	QueueRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busclient_queue_requests_total",
			Help: "Total number of queue requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	QueueRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busclient_queue_request_duration_seconds",
			Help:    "Duration of queue requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Consumer metrics
var (
	LifecycleActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busclient_lifecycle_actions_total",
			Help: "Total number of lifecycle actions taken on received messages",
		},
		[]string{"action"}, // none, delete, unlock, renew, process
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "busclient_message_processing_duration_seconds",
			Help:    "Duration of payload handler runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	IterationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busclient_consumer_iteration_errors_total",
			Help: "Total number of consumer iterations that ended in an error",
		},
	)
)

// Producer metrics
var (
	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busclient_messages_sent_total",
			Help: "Total number of messages sent",
		},
	)
)
