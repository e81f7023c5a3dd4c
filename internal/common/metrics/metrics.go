package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_consumed_total",
			Help: "Total number of bus messages fetched by the ingestion consumer",
		},
		[]string{"topic"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_skipped_total",
			Help: "Total number of messages skipped without creating a notification",
		},
		[]string{"topic", "reason"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_failed_total",
			Help: "Total number of messages that failed processing",
		},
		[]string{"topic", "error_code"},
	)

	PersistRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_persist_retries_total",
			Help: "Total number of persistence retries during ingestion",
		},
		[]string{"topic"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification records created",
		},
		[]string{"category"},
	)

	MessageHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ingest_message_handle_duration_seconds",
			Help: "Duration of message processing from fetch to commit",
		},
		[]string{"topic"},
	)
)
