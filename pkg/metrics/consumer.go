package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerDuration tracks the latency from delivery to local commit
	ConsumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_processing_duration_seconds",
		Help:    "Time taken to process a message from reception to local commit",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"topic", "status"}) // status: success, poison, transient

	// ConsumerMessages tracks the result of message consumption
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Total number of messages processed by the consumer",
	}, []string{"topic", "status"})

	// SagaTransitions counts order state changes
	SagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transitions_total",
		Help: "Order state transitions applied by the orchestrator",
	}, []string{"from", "to"})

	// SagaIgnored counts responses that did not drive a transition
	// reason: stale, unknown_order, unknown_event
	SagaIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_ignored_events_total",
		Help: "Responses ignored by the orchestrator",
	}, []string{"reason"})

	// SagaReaped counts stalled sagas forced into compensation
	SagaReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_reaped_total",
		Help: "Stalled orders forced into compensation by the reaper",
	})

	// ParticipantOutcomes tracks participant decisions
	// outcome: success, failed, duplicate, rolled_back, ignored
	ParticipantOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "participant_requests_total",
		Help: "Requests handled by a saga participant",
	}, []string{"participant", "outcome"})
)
