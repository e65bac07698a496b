// Package queue provides a durable work queue with at-least-once delivery,
// lease-based redelivery, bounded delivery attempts, and a dead-letter sink.
// Two drivers implement the same contract: a PostgreSQL driver for durable
// operation and an in-memory driver for tests and local development.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Consumer identifies a pull consumer and its delivery policy.
// One consumer group owns each subject prefix; in-flight accounting is
// scoped by FilterPrefix, so two consumers must not share a prefix.
type Consumer struct {
	// Name identifies the consumer for logging and claim serialization.
	Name string
	// FilterPrefix selects messages whose subject starts with this prefix.
	FilterPrefix string
	// MaxInFlight caps leased, unacknowledged messages for this consumer.
	// A value of 1 serializes processing across all workers and processes.
	MaxInFlight int
	// MaxDeliver bounds delivery attempts. A message that has been
	// delivered MaxDeliver times without an ack is dead-lettered.
	MaxDeliver int
	// AckWait is the lease duration. A delivery not acked or nacked
	// within AckWait becomes claimable again.
	AckWait time.Duration
}

func (c Consumer) validate() error {
	if c.Name == "" || c.FilterPrefix == "" {
		return ErrInvalidConsumer
	}
	if c.MaxInFlight < 1 || c.MaxDeliver < 1 || c.AckWait <= 0 {
		return ErrInvalidConsumer
	}
	return nil
}

// Delivery is a leased message handed to a consumer. DeliverCount and
// MaxDeliver are stamped at claim time so Nack can decide between
// redelivery and dead-lettering without another consumer lookup.
type Delivery struct {
	MessageID    uuid.UUID `json:"message_id"`
	Subject      string    `json:"subject"`
	Payload      []byte    `json:"payload"`
	DeliverCount int       `json:"deliver_count"`
	MaxDeliver   int       `json:"max_deliver"`
	PublishedAt  time.Time `json:"published_at"`
}

// DeadLetter is a message removed from circulation after exhausting
// its delivery attempts.
type DeadLetter struct {
	ID             uuid.UUID `json:"id"`
	MessageID      uuid.UUID `json:"message_id"`
	Subject        string    `json:"subject"`
	Payload        []byte    `json:"payload"`
	DeliverCount   int       `json:"deliver_count"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// DeadLetterFunc observes messages as they are dead-lettered. It runs
// after the move is committed, outside any transaction.
type DeadLetterFunc func(ctx context.Context, dl DeadLetter)

// ConsumerStats reports queue depth for one consumer.
type ConsumerStats struct {
	Consumer     string `json:"consumer"`
	Pending      int    `json:"pending"`
	InFlight     int    `json:"in_flight"`
	Redelivered  int    `json:"redelivered"`
	DeadLettered int    `json:"dead_lettered"`
}

// System is the work queue contract. Delivery is at-least-once: a
// delivered message is redelivered after lease expiry or nack until it
// is acked or exhausts MaxDeliver, so handlers must be idempotent.
// Ordering across messages is not guaranteed.
type System interface {
	// Publish durably enqueues a message and returns its id.
	Publish(ctx context.Context, subject string, payload []byte) (uuid.UUID, error)
	// Pull claims up to max messages for the consumer, never exceeding
	// the consumer's MaxInFlight across all concurrent pullers. Claimed
	// messages are leased for AckWait and have deliver_count incremented.
	// Messages found exhausted are routed to the dead-letter sink
	// instead of being delivered.
	Pull(ctx context.Context, consumer Consumer, max int) ([]Delivery, error)
	// Ack removes a message from the queue. Acking a message that is
	// already gone is not an error.
	Ack(ctx context.Context, d Delivery) error
	// Nack releases the lease for immediate redelivery, or dead-letters
	// the message when its delivery attempts are exhausted.
	Nack(ctx context.Context, d Delivery, reason string) error
	// Stats reports queue depth for the consumer's subject prefix.
	Stats(ctx context.Context, consumer Consumer) (ConsumerStats, error)
	// DeadLetters returns the most recent dead letters, newest first.
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	// Redrive republishes a dead letter under a fresh message id with a
	// reset delivery count, and removes it from the sink.
	Redrive(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	// OnDeadLetter registers an observer for dead-lettered messages.
	// It must be called during wiring, before any Pull or Nack.
	OnDeadLetter(fn DeadLetterFunc)
}

// New creates a queue system for the configured driver. The database
// connection is required for the postgres driver and ignored otherwise.
func New(cfg *Config, db *sql.DB, logger *slog.Logger) (System, error) {
	switch cfg.Driver {
	case DriverPostgres:
		if db == nil {
			return nil, fmt.Errorf("queue driver %q requires a database connection", cfg.Driver)
		}
		return NewPostgres(db, logger), nil
	case DriverMemory:
		return NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
