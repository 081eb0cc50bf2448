package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/pkg/infra"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
)

const MaxBatchMemoryThresholdMB = 20

// OutboxRepository defines the relay's view of the outbox table
type OutboxRepository interface {
	FetchPending(ctx context.Context, asOf time.Time, limit int) ([]models.OutboxRecord, error)
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, f models.DeliveryFailure) error
}

// BrokerClient defines the contract for message publishing.
// Publish returns only after the broker acknowledged the message.
type BrokerClient interface {
	Publish(ctx context.Context, rec models.OutboxRecord) error
}

type RelayOptions struct {
	BatchSize int
	// MaxAttempts dead-letters a record after that many failed publishes; 0 retries forever
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// BatchResult summarizes one relay tick
type BatchResult struct {
	Fetched      int
	Sent         int
	Failed       int
	DeadLettered int
}

// Relay moves committed outbox records to the broker, at least once
type Relay struct {
	repo   OutboxRepository
	broker BrokerClient
	opts   RelayOptions
	logger *slog.Logger
	now    func() time.Time
}

func NewRelay(r OutboxRepository, b BrokerClient, opts RelayOptions, l *slog.Logger) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Relay{
		repo:   r,
		broker: b,
		opts:   opts,
		logger: l,
		now:    time.Now,
	}
}

// ProcessNextBatch publishes the due records oldest-first. A failed publish
// is scheduled for a later tick and never stops the rest of the batch; only
// store failures abort the tick.
func (s *Relay) ProcessNextBatch(ctx context.Context) (BatchResult, error) {
	start := s.now()
	var result BatchResult

	records, err := s.repo.FetchPending(ctx, start, s.opts.BatchSize)
	if err != nil {
		return result, fmt.Errorf("fetch failure: %w", err)
	}
	if len(records) == 0 {
		return result, nil
	}
	result.Fetched = len(records)

	metrics.BatchSize.Observe(float64(len(records)))

	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		s.logger.Info("Batch cycle telemetry",
			"count", result.Fetched,
			"sent", result.Sent,
			"failed", result.Failed,
			"dead_lettered", result.DeadLettered,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	var batchBytes int
	for _, rec := range records {
		batchBytes += rec.EstimateBytes()
	}
	if batchMB := batchBytes / (1024 * 1024); batchMB > MaxBatchMemoryThresholdMB {
		s.logger.Warn("Heavy batch detected: memory pressure risk",
			"size_mb", batchMB,
			"threshold_mb", MaxBatchMemoryThresholdMB,
			"count", len(records),
		)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Shutdown signal received. Remaining records stay unsent.")
			return result, err
		}

		l := s.logger.With(
			"outbox_id", rec.ID,
			"message_id", rec.MessageID,
			"topic", rec.Topic,
			"message_key", rec.MessageKey,
			"event_type", rec.EventType,
		)

		if err := s.broker.Publish(ctx, rec); err != nil {
			failure := s.failure(rec, err)
			if failure.DeadLetter {
				result.DeadLettered++
				metrics.MessagesProcessed.WithLabelValues("dead_letter", rec.Topic).Inc()
				l.Error("Publish failed, attempt cutoff reached: record dead-lettered", "attempts", failure.Attempts, "error", err)
			} else {
				result.Failed++
				metrics.MessagesProcessed.WithLabelValues("retry", rec.Topic).Inc()
				l.Warn("Publish failed, record rescheduled", "attempts", failure.Attempts, "next_attempt_at", failure.NextAttemptAt, "error", err)
			}

			if err := s.repo.MarkFailed(ctx, rec.ID, failure); err != nil {
				l.Error("Failed to record delivery failure", "error", err)
				return result, fmt.Errorf("db checkpoint failure: %w", err)
			}
			continue
		}

		// The broker holds the message now; a failed checkpoint only means a duplicate on the next tick
		marked, err := s.repo.MarkSent(ctx, rec.ID, s.now())
		if err != nil {
			l.Error("Message sent but failed to update status in DB", "error", err)
			return result, fmt.Errorf("db checkpoint failure: %w", err)
		}
		if !marked {
			l.Warn("Record was already marked as sent")
		}

		result.Sent++
		metrics.MessagesProcessed.WithLabelValues("sent", rec.Topic).Inc()
	}

	return result, nil
}

func (s *Relay) failure(rec models.OutboxRecord, cause error) models.DeliveryFailure {
	attempts := rec.Attempts + 1
	return models.DeliveryFailure{
		Attempts:      attempts,
		LastError:     cause.Error(),
		NextAttemptAt: s.now().Add(infra.ExponentialDelay(s.opts.BackoffBase, s.opts.BackoffMax, attempts)),
		DeadLetter:    s.opts.MaxAttempts > 0 && attempts >= s.opts.MaxAttempts,
	}
}
