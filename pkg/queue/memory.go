package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memMessage struct {
	id           uuid.UUID
	subject      string
	payload      []byte
	publishedAt  time.Time
	deliverCount int
	leaseExpires time.Time
}

type memory struct {
	mu           sync.Mutex
	messages     []*memMessage
	deadLetters  []DeadLetter
	onDeadLetter DeadLetterFunc
	logger       *slog.Logger
	now          func() time.Time
}

// NewMemory creates an in-process queue with the same delivery semantics
// as the postgres driver. State is lost on restart; intended for tests
// and local development.
func NewMemory(logger *slog.Logger) System {
	return &memory{
		logger: logger.With("system", "queue", "driver", DriverMemory),
		now:    time.Now,
	}
}

func (m *memory) OnDeadLetter(fn DeadLetterFunc) {
	m.onDeadLetter = fn
}

func (m *memory) Publish(ctx context.Context, subject string, payload []byte) (uuid.UUID, error) {
	if subject == "" {
		return uuid.Nil, fmt.Errorf("publish: subject must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msg := &memMessage{
		id:          uuid.New(),
		subject:     subject,
		payload:     slices.Clone(payload),
		publishedAt: m.now(),
	}
	m.messages = append(m.messages, msg)

	return msg.id, nil
}

func (m *memory) Pull(ctx context.Context, consumer Consumer, max int) ([]Delivery, error) {
	if err := consumer.validate(); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, nil
	}

	m.mu.Lock()
	now := m.now()

	moved := m.routeExhausted(consumer, now)

	inFlight := 0
	for _, msg := range m.messages {
		if matches(msg.subject, consumer.FilterPrefix) && msg.leaseExpires.After(now) {
			inFlight++
		}
	}

	budget := min(consumer.MaxInFlight-inFlight, max)
	deliveries := make([]Delivery, 0)
	for _, msg := range m.messages {
		if len(deliveries) >= budget {
			break
		}
		if !matches(msg.subject, consumer.FilterPrefix) || msg.leaseExpires.After(now) {
			continue
		}
		if msg.deliverCount >= consumer.MaxDeliver {
			continue
		}

		msg.deliverCount++
		msg.leaseExpires = now.Add(consumer.AckWait)
		deliveries = append(deliveries, Delivery{
			MessageID:    msg.id,
			Subject:      msg.subject,
			Payload:      slices.Clone(msg.payload),
			DeliverCount: msg.deliverCount,
			MaxDeliver:   consumer.MaxDeliver,
			PublishedAt:  msg.publishedAt,
		})
	}

	m.mu.Unlock()

	m.fireDeadLetters(ctx, moved)
	return deliveries, nil
}

// routeExhausted moves claimable messages past their delivery budget to
// the dead-letter sink. Caller must hold the lock.
func (m *memory) routeExhausted(consumer Consumer, now time.Time) []DeadLetter {
	moved := make([]DeadLetter, 0)
	m.messages = slices.DeleteFunc(m.messages, func(msg *memMessage) bool {
		if !matches(msg.subject, consumer.FilterPrefix) || msg.leaseExpires.After(now) {
			return false
		}
		if msg.deliverCount < consumer.MaxDeliver {
			return false
		}
		moved = append(moved, m.deadLetter(msg, exhaustedReason, now))
		return true
	})
	return moved
}

// deadLetter records msg in the sink. Caller must hold the lock.
func (m *memory) deadLetter(msg *memMessage, reason string, now time.Time) DeadLetter {
	dl := DeadLetter{
		ID:             uuid.New(),
		MessageID:      msg.id,
		Subject:        msg.subject,
		Payload:        slices.Clone(msg.payload),
		DeliverCount:   msg.deliverCount,
		LastError:      reason,
		DeadLetteredAt: now,
	}
	m.deadLetters = append(m.deadLetters, dl)
	return dl
}

func (m *memory) Ack(ctx context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = slices.DeleteFunc(m.messages, func(msg *memMessage) bool {
		return msg.id == d.MessageID
	})
	return nil
}

func (m *memory) Nack(ctx context.Context, d Delivery, reason string) error {
	m.mu.Lock()

	var moved []DeadLetter
	now := m.now()
	for i, msg := range m.messages {
		if msg.id != d.MessageID {
			continue
		}
		if d.DeliverCount >= d.MaxDeliver {
			moved = append(moved, m.deadLetter(msg, reason, now))
			m.messages = slices.Delete(m.messages, i, i+1)
		} else {
			msg.leaseExpires = time.Time{}
		}
		break
	}

	m.mu.Unlock()

	m.fireDeadLetters(ctx, moved)
	return nil
}

func (m *memory) Stats(ctx context.Context, consumer Consumer) (ConsumerStats, error) {
	stats := ConsumerStats{Consumer: consumer.Name}
	if err := consumer.validate(); err != nil {
		return stats, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, msg := range m.messages {
		if !matches(msg.subject, consumer.FilterPrefix) {
			continue
		}
		if msg.leaseExpires.After(now) {
			stats.InFlight++
		} else {
			stats.Pending++
		}
		if msg.deliverCount > 1 {
			stats.Redelivered++
		}
	}
	for _, dl := range m.deadLetters {
		if matches(dl.Subject, consumer.FilterPrefix) {
			stats.DeadLettered++
		}
	}

	return stats, nil
}

func (m *memory) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit < 1 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]DeadLetter, 0, min(limit, len(m.deadLetters)))
	for i := len(m.deadLetters) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.deadLetters[i])
	}
	return result, nil
}

func (m *memory) Redrive(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.IndexFunc(m.deadLetters, func(dl DeadLetter) bool { return dl.ID == id })
	if idx < 0 {
		return uuid.Nil, ErrNotFound
	}

	dl := m.deadLetters[idx]
	m.deadLetters = slices.Delete(m.deadLetters, idx, idx+1)

	msg := &memMessage{
		id:          uuid.New(),
		subject:     dl.Subject,
		payload:     slices.Clone(dl.Payload),
		publishedAt: m.now(),
	}
	m.messages = append(m.messages, msg)

	m.logger.Info("dead letter redriven", "dead_letter_id", id, "message_id", msg.id)
	return msg.id, nil
}

func (m *memory) fireDeadLetters(ctx context.Context, dls []DeadLetter) {
	for _, dl := range dls {
		m.logger.Warn("message dead-lettered",
			"message_id", dl.MessageID,
			"subject", dl.Subject,
			"deliver_count", dl.DeliverCount,
			"reason", dl.LastError,
		)
		if m.onDeadLetter != nil {
			m.onDeadLetter(ctx, dl)
		}
	}
}

func matches(subject, prefix string) bool {
	return len(subject) >= len(prefix) && subject[:len(prefix)] == prefix
}
