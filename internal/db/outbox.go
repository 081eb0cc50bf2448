package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/google/uuid"
)

// outboxWriter is embedded by every service transaction so that the business
// mutation and its notification commit or roll back together
type outboxWriter struct {
	tx *sql.Tx
}

func (w outboxWriter) Enqueue(ctx context.Context, topic, key string, env models.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}

	query := `
		INSERT INTO outbox (message_id, topic, message_key, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := w.tx.ExecContext(ctx, query, uuid.New(), topic, key, string(env.EventType), payload); err != nil {
		return fmt.Errorf("failed to enqueue %s on %s: %w", env.EventType, topic, err)
	}
	return nil
}

// OutboxRepository is the relay side of the outbox table
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// FetchPending returns unsent records due at asOf, oldest first.
// SKIP LOCKED only keeps two concurrent selects from returning the same rows;
// the locks are gone once this returns, so a second relay may still publish a
// record that is in flight here. Consumers absorb those duplicates.
func (r *OutboxRepository) FetchPending(ctx context.Context, asOf time.Time, limit int) ([]models.OutboxRecord, error) {
	query := `
		SELECT id, message_id, topic, message_key, event_type, payload, attempts, created_at
		FROM outbox
		WHERE sent = FALSE AND dead_lettered = FALSE AND next_attempt_at <= $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	var records []models.OutboxRecord
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, asOf, limit)
		if err != nil {
			return fmt.Errorf("failed to fetch pending records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.OutboxRecord
			var eventType string
			if err := rows.Scan(
				&rec.ID,
				&rec.MessageID,
				&rec.Topic,
				&rec.MessageKey,
				&eventType,
				&rec.Payload,
				&rec.Attempts,
				&rec.CreatedAt,
			); err != nil {
				return fmt.Errorf("outbox scan failed: %w", err)
			}
			rec.EventType = models.EventType(eventType)
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSent flips a record to sent. It reports false when the record was
// already sent, so a record transitions exactly once.
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE outbox
		SET sent = TRUE, sent_at = $2
		WHERE id = $1 AND sent = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark record %d as sent: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, f models.DeliveryFailure) error {
	query := `
		UPDATE outbox
		SET attempts = $2,
		    last_error = $3,
		    next_attempt_at = $4,
		    dead_lettered = $5
		WHERE id = $1 AND sent = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, id, f.Attempts, f.LastError, f.NextAttemptAt, f.DeadLetter); err != nil {
		return fmt.Errorf("failed to record delivery failure for %d: %w", id, err)
	}
	return nil
}

// Stats returns the number of unsent records still in rotation and the dead-lettered ones
func (r *OutboxRepository) Stats(ctx context.Context) (pending, deadLettered int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE dead_lettered = FALSE),
			COUNT(*) FILTER (WHERE dead_lettered = TRUE)
		FROM outbox
		WHERE sent = FALSE
	`
	if err := r.db.QueryRowContext(ctx, query).Scan(&pending, &deadLettered); err != nil {
		return 0, 0, fmt.Errorf("failed to read outbox stats: %w", err)
	}
	return pending, deadLettered, nil
}

// PurgeSent deletes delivered records older than before
func (r *OutboxRepository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE sent = TRUE AND sent_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sent records: %w", err)
	}
	return res.RowsAffected()
}
