package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerMessagesReceived counts messages fetched from the broker (before processing).
	ConsumerMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_consumer_messages_received_total",
			Help: "Total number of queue messages received (fetched from broker)",
		},
		[]string{"queue", "consumer_group"},
	)

	// ConsumerMessagesProcessed counts successfully processed messages.
	ConsumerMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_consumer_messages_processed_total",
			Help: "Total number of successfully processed queue messages",
		},
		[]string{"queue", "consumer_group"},
	)

	// ConsumerMessagesFailed counts messages that exhausted all delivery attempts.
	ConsumerMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_consumer_messages_failed_total",
			Help: "Total number of queue messages that failed all attempts (dead-lettered or dropped)",
		},
		[]string{"queue", "consumer_group"},
	)

	// ConsumerMessagesDuplicate counts messages skipped by the idempotency guard.
	ConsumerMessagesDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_consumer_messages_duplicate_total",
			Help: "Total number of duplicate queue messages skipped by the idempotency guard",
		},
		[]string{"queue", "consumer_group"},
	)

	// ConsumerProcessingDuration observes handler execution time.
	ConsumerProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_consumer_processing_duration_seconds",
			Help:    "Duration of queue message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "consumer_group"},
	)

	// ConsumerDLQPublished counts messages sent to a dead-letter queue.
	ConsumerDLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_consumer_dlq_published_total",
			Help: "Total number of queue messages published to a dead-letter queue",
		},
		[]string{"queue", "consumer_group"},
	)

	// ProducerMessagesPublished counts published messages.
	ProducerMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_producer_messages_published_total",
			Help: "Total number of queue messages published",
		},
		[]string{"queue"},
	)

	// ProducerPublishErrors counts publish failures.
	ProducerPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_producer_publish_errors_total",
			Help: "Total number of queue publish errors",
		},
		[]string{"queue"},
	)

	// ProducerPublishDuration observes the duration of publish operations.
	ProducerPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_producer_publish_duration_seconds",
			Help:    "Duration of queue publish operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)
