package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks the throughput of the relay
	// status: sent, retry, dead_letter
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_processed_total",
		Help: "Total number of outbox records processed by the relay",
	}, []string{"status", "topic"})

	// BatchDuration measures how long it takes to process an entire batch
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of records actually captured in each batch
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_size",
		Help:    "Number of records processed per batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// RabbitMQReconnections counts how many times a process had to restore the broker link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus is 1 while the broker link is up
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_healthy",
		Help: "Current health status of the relay (1 for healthy, 0 for unhealthy)",
	})

	// OutboxBacklog is the primary indicator of delivery lag
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_outbox_backlog",
		Help: "Current number of unsent records in the outbox table",
	})

	// DLQSize grows when records hit the attempt cutoff; manual intervention is required
	DLQSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_dlq_size",
		Help: "Current number of dead-lettered outbox records",
	})
)
