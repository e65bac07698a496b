package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestQueue returns a memory queue with a manually advanced clock.
func newTestQueue(t *testing.T) (*memory, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(testLogger()).(*memory)
	m.now = func() time.Time { return now }
	return m, &now
}

func testConsumer() Consumer {
	return Consumer{
		Name:         "workers-extract",
		FilterPrefix: "jobs.extract",
		MaxInFlight:  5,
		MaxDeliver:   3,
		AckWait:      time.Minute,
	}
}

func TestPublish(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	t.Run("returns message id", func(t *testing.T) {
		id, err := q.Publish(ctx, "jobs.extract", []byte(`{"a":1}`))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if id == uuid.Nil {
			t.Error("id = Nil, want a generated id")
		}
	})

	t.Run("empty subject rejected", func(t *testing.T) {
		if _, err := q.Publish(ctx, "", []byte("x")); err == nil {
			t.Error("publish with empty subject succeeded, want error")
		}
	})
}

func TestPullDelivers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	c := testConsumer()

	id, _ := q.Publish(ctx, "jobs.extract", []byte(`{"job":"one"}`))

	deliveries, err := q.Pull(ctx, c, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}

	d := deliveries[0]
	if d.MessageID != id {
		t.Errorf("message id = %v, want %v", d.MessageID, id)
	}
	if d.DeliverCount != 1 {
		t.Errorf("deliver count = %d, want 1", d.DeliverCount)
	}
	if d.MaxDeliver != c.MaxDeliver {
		t.Errorf("max deliver = %d, want %d", d.MaxDeliver, c.MaxDeliver)
	}
	if string(d.Payload) != `{"job":"one"}` {
		t.Errorf("payload = %s, want original payload", d.Payload)
	}
}

func TestPullInvalidConsumer(t *testing.T) {
	q, _ := newTestQueue(t)

	tests := []struct {
		name     string
		consumer Consumer
	}{
		{"missing name", Consumer{FilterPrefix: "jobs.", MaxInFlight: 1, MaxDeliver: 1, AckWait: time.Second}},
		{"missing prefix", Consumer{Name: "w", MaxInFlight: 1, MaxDeliver: 1, AckWait: time.Second}},
		{"zero in-flight", Consumer{Name: "w", FilterPrefix: "jobs.", MaxDeliver: 1, AckWait: time.Second}},
		{"zero max deliver", Consumer{Name: "w", FilterPrefix: "jobs.", MaxInFlight: 1, AckWait: time.Second}},
		{"zero ack wait", Consumer{Name: "w", FilterPrefix: "jobs.", MaxInFlight: 1, MaxDeliver: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Pull(context.Background(), tt.consumer, 1); !errors.Is(err, ErrInvalidConsumer) {
				t.Errorf("err = %v, want ErrInvalidConsumer", err)
			}
		})
	}
}

func TestPullPrefixIsolation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Publish(ctx, "jobs.ingest", []byte("a"))
	q.Publish(ctx, "jobs.extract", []byte("b"))

	c := testConsumer()
	c.FilterPrefix = "jobs.ingest"

	deliveries, err := q.Pull(ctx, c, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	if deliveries[0].Subject != "jobs.ingest" {
		t.Errorf("subject = %q, want jobs.ingest", deliveries[0].Subject)
	}
}

func TestMaxInFlightSerializes(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	c := testConsumer()
	c.MaxInFlight = 1

	q.Publish(ctx, "jobs.extract", []byte("first"))
	q.Publish(ctx, "jobs.extract", []byte("second"))
	q.Publish(ctx, "jobs.extract", []byte("third"))

	first, _ := q.Pull(ctx, c, 10)
	if len(first) != 1 {
		t.Fatalf("first pull = %d deliveries, want 1", len(first))
	}

	// The first message holds the only in-flight slot until acked.
	blocked, _ := q.Pull(ctx, c, 10)
	if len(blocked) != 0 {
		t.Fatalf("pull while in-flight = %d deliveries, want 0", len(blocked))
	}

	if err := q.Ack(ctx, first[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}

	second, _ := q.Pull(ctx, c, 10)
	if len(second) != 1 {
		t.Fatalf("pull after ack = %d deliveries, want 1", len(second))
	}
	if string(second[0].Payload) != "second" {
		t.Errorf("payload = %s, want second (publish order)", second[0].Payload)
	}

	// An expired lease frees the slot without an ack.
	*now = now.Add(2 * time.Minute)
	third, _ := q.Pull(ctx, c, 10)
	if len(third) != 1 {
		t.Fatalf("pull after lease expiry = %d deliveries, want 1", len(third))
	}
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()
	c := testConsumer()

	id, _ := q.Publish(ctx, "jobs.extract", []byte("work"))

	first, _ := q.Pull(ctx, c, 1)
	if len(first) != 1 || first[0].DeliverCount != 1 {
		t.Fatalf("first delivery = %+v, want deliver count 1", first)
	}

	// Leased: not claimable again yet.
	leased, _ := q.Pull(ctx, c, 1)
	if len(leased) != 0 {
		t.Fatalf("pull during lease = %d deliveries, want 0", len(leased))
	}

	*now = now.Add(c.AckWait + time.Second)

	second, _ := q.Pull(ctx, c, 1)
	if len(second) != 1 {
		t.Fatalf("pull after expiry = %d deliveries, want 1", len(second))
	}
	if second[0].MessageID != id {
		t.Errorf("message id = %v, want %v", second[0].MessageID, id)
	}
	if second[0].DeliverCount != 2 {
		t.Errorf("deliver count = %d, want 2", second[0].DeliverCount)
	}
}

func TestNackRedelivers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	c := testConsumer()

	q.Publish(ctx, "jobs.extract", []byte("work"))

	first, _ := q.Pull(ctx, c, 1)
	if err := q.Nack(ctx, first[0], "transient failure"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	// Nack releases the lease immediately; no clock advance needed.
	second, _ := q.Pull(ctx, c, 1)
	if len(second) != 1 {
		t.Fatalf("pull after nack = %d deliveries, want 1", len(second))
	}
	if second[0].DeliverCount != 2 {
		t.Errorf("deliver count = %d, want 2", second[0].DeliverCount)
	}
}

func TestNackExhaustionDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	c := testConsumer()
	c.MaxDeliver = 2

	var observed []DeadLetter
	q.OnDeadLetter(func(_ context.Context, dl DeadLetter) {
		observed = append(observed, dl)
	})

	id, _ := q.Publish(ctx, "jobs.extract", []byte("poison"))

	for attempt := 1; attempt <= 2; attempt++ {
		deliveries, _ := q.Pull(ctx, c, 1)
		if len(deliveries) != 1 {
			t.Fatalf("attempt %d: deliveries = %d, want 1", attempt, len(deliveries))
		}
		if err := q.Nack(ctx, deliveries[0], "handler failed"); err != nil {
			t.Fatalf("nack: %v", err)
		}
	}

	// Exactly MaxDeliver attempts, then the sink.
	empty, _ := q.Pull(ctx, c, 1)
	if len(empty) != 0 {
		t.Fatalf("pull after exhaustion = %d deliveries, want 0", len(empty))
	}

	if len(observed) != 1 {
		t.Fatalf("dead-letter observer fired %d times, want 1", len(observed))
	}
	if observed[0].MessageID != id {
		t.Errorf("observed message id = %v, want %v", observed[0].MessageID, id)
	}
	if observed[0].LastError != "handler failed" {
		t.Errorf("last error = %q, want handler failed", observed[0].LastError)
	}
	if observed[0].DeliverCount != 2 {
		t.Errorf("deliver count = %d, want 2", observed[0].DeliverCount)
	}

	letters, _ := q.DeadLetters(ctx, 10)
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
}

func TestExpiredFinalLeaseDeadLettersOnPull(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	c := testConsumer()
	c.MaxDeliver = 1

	var observed []DeadLetter
	q.OnDeadLetter(func(_ context.Context, dl DeadLetter) {
		observed = append(observed, dl)
	})

	q.Publish(ctx, "jobs.extract", []byte("crashed worker"))

	deliveries, _ := q.Pull(ctx, c, 1)
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}

	// Worker crashed: lease expires without ack or nack. The next pull
	// routes the exhausted message to the sink instead of delivering it.
	*now = now.Add(c.AckWait + time.Second)

	redelivered, _ := q.Pull(ctx, c, 1)
	if len(redelivered) != 0 {
		t.Fatalf("pull after final lease expiry = %d deliveries, want 0", len(redelivered))
	}
	if len(observed) != 1 {
		t.Fatalf("dead-letter observer fired %d times, want 1", len(observed))
	}
	if observed[0].LastError != exhaustedReason {
		t.Errorf("last error = %q, want %q", observed[0].LastError, exhaustedReason)
	}
}

func TestAckIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	c := testConsumer()

	q.Publish(ctx, "jobs.extract", []byte("work"))
	deliveries, _ := q.Pull(ctx, c, 1)

	if err := q.Ack(ctx, deliveries[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(ctx, deliveries[0]); err != nil {
		t.Errorf("second ack = %v, want nil", err)
	}
	if err := q.Nack(ctx, deliveries[0], "late"); err != nil {
		t.Errorf("nack after ack = %v, want nil", err)
	}
}

func TestRedrive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	c := testConsumer()
	c.MaxDeliver = 1

	q.Publish(ctx, "jobs.extract", []byte("poison"))
	deliveries, _ := q.Pull(ctx, c, 1)
	q.Nack(ctx, deliveries[0], "failed")

	letters, _ := q.DeadLetters(ctx, 10)
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}

	newID, err := q.Redrive(ctx, letters[0].ID)
	if err != nil {
		t.Fatalf("redrive: %v", err)
	}
	if newID == letters[0].MessageID {
		t.Error("redrive reused the original message id, want a fresh one")
	}

	// Redriven message starts over with a clean delivery count.
	redriven, _ := q.Pull(ctx, c, 1)
	if len(redriven) != 1 {
		t.Fatalf("pull after redrive = %d deliveries, want 1", len(redriven))
	}
	if redriven[0].DeliverCount != 1 {
		t.Errorf("deliver count = %d, want 1", redriven[0].DeliverCount)
	}
	if string(redriven[0].Payload) != "poison" {
		t.Errorf("payload = %s, want original payload", redriven[0].Payload)
	}

	remaining, _ := q.DeadLetters(ctx, 10)
	if len(remaining) != 0 {
		t.Errorf("dead letters after redrive = %d, want 0", len(remaining))
	}

	if _, err := q.Redrive(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("redrive unknown id = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	c := testConsumer()

	q.Publish(ctx, "jobs.extract", []byte("a"))
	q.Publish(ctx, "jobs.extract", []byte("b"))
	q.Publish(ctx, "jobs.ingest", []byte("other consumer"))

	q.Pull(ctx, c, 1)

	stats, err := q.Stats(ctx, c)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Consumer != c.Name {
		t.Errorf("consumer = %q, want %q", stats.Consumer, c.Name)
	}
	if stats.InFlight != 1 {
		t.Errorf("in flight = %d, want 1", stats.InFlight)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
	if stats.DeadLettered != 0 {
		t.Errorf("dead lettered = %d, want 0", stats.DeadLettered)
	}

	if _, err := q.Stats(ctx, Consumer{}); !errors.Is(err, ErrInvalidConsumer) {
		t.Errorf("stats with invalid consumer = %v, want ErrInvalidConsumer", err)
	}
}

func TestNew(t *testing.T) {
	t.Run("memory driver", func(t *testing.T) {
		sys, err := New(&Config{Driver: DriverMemory}, nil, testLogger())
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if sys == nil {
			t.Fatal("system = nil")
		}
	})

	t.Run("postgres driver requires db", func(t *testing.T) {
		if _, err := New(&Config{Driver: DriverPostgres}, nil, testLogger()); err == nil {
			t.Error("new postgres without db succeeded, want error")
		}
	})

	t.Run("unknown driver rejected", func(t *testing.T) {
		if _, err := New(&Config{Driver: "rabbit"}, nil, testLogger()); err == nil {
			t.Error("new with unknown driver succeeded, want error")
		}
	})
}

func TestConfigFinalize(t *testing.T) {
	t.Run("defaults to postgres", func(t *testing.T) {
		cfg := Config{}
		if err := cfg.Finalize(nil); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if cfg.Driver != DriverPostgres {
			t.Errorf("driver = %q, want %q", cfg.Driver, DriverPostgres)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("TEST_QUEUE_DRIVER", DriverMemory)
		cfg := Config{}
		if err := cfg.Finalize(&Env{Driver: "TEST_QUEUE_DRIVER"}); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if cfg.Driver != DriverMemory {
			t.Errorf("driver = %q, want %q", cfg.Driver, DriverMemory)
		}
	})

	t.Run("invalid driver rejected", func(t *testing.T) {
		cfg := Config{Driver: "kafka"}
		if err := cfg.Finalize(nil); err == nil {
			t.Error("finalize with invalid driver succeeded, want error")
		}
	})

	t.Run("merge overlays driver", func(t *testing.T) {
		cfg := Config{Driver: DriverPostgres}
		cfg.Merge(&Config{Driver: DriverMemory})
		if cfg.Driver != DriverMemory {
			t.Errorf("driver = %q, want %q", cfg.Driver, DriverMemory)
		}
		cfg.Merge(&Config{})
		if cfg.Driver != DriverMemory {
			t.Errorf("driver after empty merge = %q, want %q", cfg.Driver, DriverMemory)
		}
	})
}
