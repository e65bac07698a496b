package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/repository"
)

const exhaustedReason = "delivery attempts exhausted"

type postgres struct {
	db           *sql.DB
	logger       *slog.Logger
	onDeadLetter DeadLetterFunc
}

// NewPostgres creates a durable queue backed by the queue_messages and
// queue_dead_letters tables.
func NewPostgres(db *sql.DB, logger *slog.Logger) System {
	return &postgres{
		db:     db,
		logger: logger.With("system", "queue", "driver", DriverPostgres),
	}
}

func (p *postgres) OnDeadLetter(fn DeadLetterFunc) {
	p.onDeadLetter = fn
}

func (p *postgres) Publish(ctx context.Context, subject string, payload []byte) (uuid.UUID, error) {
	if subject == "" {
		return uuid.Nil, fmt.Errorf("publish: subject must not be empty")
	}

	id := uuid.New()
	query := `
		INSERT INTO queue_messages (id, subject, payload, published_at, deliver_count, lease_expires_at)
		VALUES ($1, $2, $3, now(), 0, NULL)`

	if _, err := p.db.ExecContext(ctx, query, id, subject, payload); err != nil {
		return uuid.Nil, fmt.Errorf("publish %s: %w", subject, err)
	}

	return id, nil
}

type pullResult struct {
	deliveries []Delivery
	moved      []DeadLetter
}

func (p *postgres) Pull(ctx context.Context, consumer Consumer, max int) ([]Delivery, error) {
	if err := consumer.validate(); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, nil
	}

	result, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (pullResult, error) {
		var res pullResult

		// Serialize pulls per consumer so the in-flight budget check
		// cannot race between processes. The lock releases on commit.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, consumer.Name); err != nil {
			return res, fmt.Errorf("acquire consumer lock: %w", err)
		}

		moved, err := routeExhausted(ctx, tx, consumer.FilterPrefix, consumer.MaxDeliver)
		if err != nil {
			return res, err
		}
		res.moved = moved

		inFlight, err := countInFlight(ctx, tx, consumer.FilterPrefix)
		if err != nil {
			return res, err
		}

		budget := min(consumer.MaxInFlight-inFlight, max)
		if budget < 1 {
			return res, nil
		}

		deliveries, err := claim(ctx, tx, consumer, budget)
		if err != nil {
			return res, err
		}
		res.deliveries = deliveries

		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", consumer.Name, err)
	}

	p.fireDeadLetters(ctx, result.moved)
	return result.deliveries, nil
}

// routeExhausted moves claimable messages that have exhausted their
// delivery attempts to the dead-letter table instead of delivering them.
// This catches messages whose final lease expired without a nack.
func routeExhausted(ctx context.Context, tx *sql.Tx, prefix string, maxDeliver int) ([]DeadLetter, error) {
	query := `
		WITH exhausted AS (
			SELECT id, subject, payload, deliver_count
			FROM queue_messages
			WHERE subject LIKE $1 || '%'
			  AND (lease_expires_at IS NULL OR lease_expires_at <= now())
			  AND deliver_count >= $2
			ORDER BY published_at
			FOR UPDATE SKIP LOCKED
		), moved AS (
			INSERT INTO queue_dead_letters (id, message_id, subject, payload, deliver_count, last_error, dead_lettered_at)
			SELECT gen_random_uuid(), id, subject, payload, deliver_count, $3, now()
			FROM exhausted
			RETURNING id, message_id, subject, payload, deliver_count, last_error, dead_lettered_at
		), removed AS (
			DELETE FROM queue_messages WHERE id IN (SELECT id FROM exhausted)
		)
		SELECT id, message_id, subject, payload, deliver_count, last_error, dead_lettered_at FROM moved`

	dls, err := repository.QueryMany(ctx, tx, query, []any{prefix, maxDeliver, exhaustedReason}, scanDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("route exhausted messages: %w", err)
	}
	return dls, nil
}

func countInFlight(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	query := `
		SELECT count(*) FROM queue_messages
		WHERE subject LIKE $1 || '%'
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at > now()`

	var n int
	if err := tx.QueryRowContext(ctx, query, prefix).Scan(&n); err != nil {
		return 0, fmt.Errorf("count in-flight messages: %w", err)
	}
	return n, nil
}

func claim(ctx context.Context, tx *sql.Tx, consumer Consumer, limit int) ([]Delivery, error) {
	query := `
		WITH claimable AS (
			SELECT id FROM queue_messages
			WHERE subject LIKE $1 || '%'
			  AND (lease_expires_at IS NULL OR lease_expires_at <= now())
			  AND deliver_count < $2
			ORDER BY published_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_messages m
		SET deliver_count = m.deliver_count + 1,
		    lease_expires_at = now() + make_interval(secs => $4)
		FROM claimable c
		WHERE m.id = c.id
		RETURNING m.id, m.subject, m.payload, m.deliver_count, m.published_at`

	args := []any{consumer.FilterPrefix, consumer.MaxDeliver, limit, consumer.AckWait.Seconds()}
	deliveries, err := repository.QueryMany(ctx, tx, query, args, func(s repository.Scanner) (Delivery, error) {
		var d Delivery
		err := s.Scan(&d.MessageID, &d.Subject, &d.Payload, &d.DeliverCount, &d.PublishedAt)
		d.MaxDeliver = consumer.MaxDeliver
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	return deliveries, nil
}

func (p *postgres) Ack(ctx context.Context, d Delivery) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = $1`, d.MessageID); err != nil {
		return fmt.Errorf("ack %s: %w", d.MessageID, err)
	}
	return nil
}

func (p *postgres) Nack(ctx context.Context, d Delivery, reason string) error {
	if d.DeliverCount < d.MaxDeliver {
		query := `UPDATE queue_messages SET lease_expires_at = NULL WHERE id = $1`
		if _, err := p.db.ExecContext(ctx, query, d.MessageID); err != nil {
			return fmt.Errorf("nack %s: %w", d.MessageID, err)
		}
		return nil
	}

	query := `
		WITH msg AS (
			DELETE FROM queue_messages WHERE id = $1
			RETURNING id, subject, payload, deliver_count
		)
		INSERT INTO queue_dead_letters (id, message_id, subject, payload, deliver_count, last_error, dead_lettered_at)
		SELECT $2, id, subject, payload, deliver_count, $3, now() FROM msg
		RETURNING id, message_id, subject, payload, deliver_count, last_error, dead_lettered_at`

	dl, err := repository.QueryOne(ctx, p.db, query, []any{d.MessageID, uuid.New(), reason}, scanDeadLetter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already acked or dead-lettered elsewhere.
			return nil
		}
		return fmt.Errorf("dead-letter %s: %w", d.MessageID, err)
	}

	p.fireDeadLetters(ctx, []DeadLetter{dl})
	return nil
}

func (p *postgres) Stats(ctx context.Context, consumer Consumer) (ConsumerStats, error) {
	stats := ConsumerStats{Consumer: consumer.Name}
	if err := consumer.validate(); err != nil {
		return stats, err
	}

	query := `
		SELECT
			count(*) FILTER (WHERE lease_expires_at IS NULL OR lease_expires_at <= now()),
			count(*) FILTER (WHERE lease_expires_at IS NOT NULL AND lease_expires_at > now()),
			count(*) FILTER (WHERE deliver_count > 1)
		FROM queue_messages
		WHERE subject LIKE $1 || '%'`

	err := p.db.QueryRowContext(ctx, query, consumer.FilterPrefix).
		Scan(&stats.Pending, &stats.InFlight, &stats.Redelivered)
	if err != nil {
		return stats, fmt.Errorf("queue stats %s: %w", consumer.Name, err)
	}

	dlQuery := `SELECT count(*) FROM queue_dead_letters WHERE subject LIKE $1 || '%'`
	if err := p.db.QueryRowContext(ctx, dlQuery, consumer.FilterPrefix).Scan(&stats.DeadLettered); err != nil {
		return stats, fmt.Errorf("dead-letter stats %s: %w", consumer.Name, err)
	}

	return stats, nil
}

func (p *postgres) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit < 1 {
		limit = 50
	}

	query := `
		SELECT id, message_id, subject, payload, deliver_count, last_error, dead_lettered_at
		FROM queue_dead_letters
		ORDER BY dead_lettered_at DESC
		LIMIT $1`

	dls, err := repository.QueryMany(ctx, p.db, query, []any{limit}, scanDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return dls, nil
}

func (p *postgres) Redrive(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	newID, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (uuid.UUID, error) {
		var (
			subject string
			payload []byte
		)
		query := `DELETE FROM queue_dead_letters WHERE id = $1 RETURNING subject, payload`
		if err := tx.QueryRowContext(ctx, query, id).Scan(&subject, &payload); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return uuid.Nil, ErrNotFound
			}
			return uuid.Nil, fmt.Errorf("remove dead letter: %w", err)
		}

		msgID := uuid.New()
		insert := `
			INSERT INTO queue_messages (id, subject, payload, published_at, deliver_count, lease_expires_at)
			VALUES ($1, $2, $3, now(), 0, NULL)`
		if _, err := tx.ExecContext(ctx, insert, msgID, subject, payload); err != nil {
			return uuid.Nil, fmt.Errorf("republish dead letter: %w", err)
		}

		return msgID, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("redrive %s: %w", id, err)
	}

	p.logger.Info("dead letter redriven", "dead_letter_id", id, "message_id", newID)
	return newID, nil
}

func (p *postgres) fireDeadLetters(ctx context.Context, dls []DeadLetter) {
	for _, dl := range dls {
		p.logger.Warn("message dead-lettered",
			"message_id", dl.MessageID,
			"subject", dl.Subject,
			"deliver_count", dl.DeliverCount,
			"reason", dl.LastError,
		)
		if p.onDeadLetter != nil {
			p.onDeadLetter(ctx, dl)
		}
	}
}

func scanDeadLetter(s repository.Scanner) (DeadLetter, error) {
	var dl DeadLetter
	err := s.Scan(&dl.ID, &dl.MessageID, &dl.Subject, &dl.Payload, &dl.DeliverCount, &dl.LastError, &dl.DeadLetteredAt)
	return dl, err
}
