package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxRecord is a row of a service-local outbox table.
// Business code only creates records; the relay owns the unsent -> sent transition.
type OutboxRecord struct {
	ID            int64      `db:"id"`
	MessageID     uuid.UUID  `db:"message_id"`
	Topic         string     `db:"topic"`
	MessageKey    string     `db:"message_key"`
	EventType     EventType  `db:"event_type"`
	Payload       []byte     `db:"payload"`
	Sent          bool       `db:"sent"`
	Attempts      int        `db:"attempts"`
	LastError     string     `db:"last_error"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	DeadLettered  bool       `db:"dead_lettered"`
	CreatedAt     time.Time  `db:"created_at"`
	SentAt        *time.Time `db:"sent_at"`
}

// EstimateBytes approximates the memory held by the record while in a batch
func (r OutboxRecord) EstimateBytes() int {
	return len(r.Payload) + len(r.Topic) + len(r.MessageKey) + len(r.EventType) + len(r.LastError) + 128
}

// DeliveryFailure records a failed publish attempt
type DeliveryFailure struct {
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	DeadLetter    bool
}
