package stages

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/queue"
)

// Runner drives one stage handler from its queue consumer. Each poll
// pulls up to the consumer's in-flight budget and processes the batch
// concurrently; the queue enforces the budget across processes, so a
// runner restart cannot overshoot it.
type Runner struct {
	queue    queue.System
	jobs     jobs.System
	handler  Handler
	consumer queue.Consumer
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner for one stage.
func NewRunner(
	q queue.System,
	jobSys jobs.System,
	handler Handler,
	consumer queue.Consumer,
	interval time.Duration,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		queue:    q,
		jobs:     jobSys,
		handler:  handler,
		consumer: consumer,
		interval: interval,
		logger:   logger.With("system", "stages", "stage", handler.Stage()),
	}
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info(
		"stage runner started",
		"consumer", r.consumer.Name,
		"max_in_flight", r.consumer.MaxInFlight,
		"poll_interval", r.interval,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stage runner stopped")
			return nil
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain pulls and processes batches until the queue has nothing ready
// for this consumer.
func (r *Runner) drain(ctx context.Context) {
	for {
		deliveries, err := r.queue.Pull(ctx, r.consumer, r.consumer.MaxInFlight)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("pull failed", "consumer", r.consumer.Name, "error", err)
			}
			return
		}
		if len(deliveries) == 0 {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, d := range deliveries {
			g.Go(func() error {
				r.process(gctx, d)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Runner) process(ctx context.Context, d queue.Delivery) {
	var msg dispatch.Message
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		// No recoverable job id, so there is nothing to mark failed;
		// bounded redelivery walks the message to the dead-letter
		// queue where it stays visible.
		r.logger.Warn("undecodable delivery", "message_id", d.MessageID, "error", err)
		r.nack(ctx, d, "undecodable payload: "+err.Error())
		return
	}

	logger := r.logger.With(
		"job_id", msg.JobID,
		"message_id", d.MessageID,
		"trace_id", msg.TraceID,
		"attempt", d.DeliverCount,
	)

	if msg.Stage != r.handler.Stage() {
		logger.Warn("delivery routed to wrong stage", "message_stage", msg.Stage)
		r.failPermanent(ctx, d, msg, &PermanentError{
			Kind: jobs.FailureInput,
			Err:  jobs.ErrInvalidStage,
		}, logger)
		return
	}

	if msg.JobID != uuid.Nil {
		job, err := r.jobs.Find(ctx, msg.JobID)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			logger.Warn("delivery without job record")
			r.ack(ctx, d)
			return
		case err != nil:
			r.nack(ctx, d, "load job: "+err.Error())
			return
		}

		if job.Status.Terminal() {
			// Redelivery of finished work: the artifact write already
			// landed, so acking closes the loop without re-running.
			logger.Info("job already terminal", "status", job.Status)
			r.ack(ctx, d)
			return
		}

		if _, err := r.jobs.MarkRunning(ctx, msg.JobID); err != nil {
			if errors.Is(err, jobs.ErrInvalidTransition) {
				r.ack(ctx, d)
				return
			}
			r.nack(ctx, d, "mark running: "+err.Error())
			return
		}
	}

	execCtx := ctx
	if r.consumer.AckWait > 0 {
		// The lease is the processing deadline: once ack_wait elapses
		// the message is claimable again, so cancel rather than race
		// the redelivery.
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.consumer.AckWait)
		defer cancel()
	}

	err := r.handler.Execute(execCtx, msg, d)
	if err == nil {
		r.complete(ctx, d, msg, logger)
		return
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		r.failPermanent(ctx, d, msg, perm, logger)
		return
	}

	logger.Warn("stage failed; awaiting redelivery", "error", err)
	r.nack(ctx, d, err.Error())
}

// complete records success then acks. Marking before acking keeps the
// write-then-ack ordering: if the mark fails the delivery is nacked
// and the redelivery finds the job terminal only once the mark lands.
func (r *Runner) complete(ctx context.Context, d queue.Delivery, msg dispatch.Message, logger *slog.Logger) {
	if msg.JobID != uuid.Nil {
		if err := r.jobs.MarkSucceeded(ctx, msg.JobID); err != nil && !errors.Is(err, jobs.ErrInvalidTransition) {
			r.nack(ctx, d, "mark succeeded: "+err.Error())
			return
		}
	}
	r.ack(ctx, d)
	logger.Info("stage completed")
}

func (r *Runner) failPermanent(
	ctx context.Context,
	d queue.Delivery,
	msg dispatch.Message,
	perm *PermanentError,
	logger *slog.Logger,
) {
	logger.Warn("stage failed permanently", "kind", perm.Kind, "error", perm.Err)

	if msg.JobID != uuid.Nil {
		err := r.jobs.MarkFailed(ctx, msg.JobID, perm.Kind, perm.Err.Error())
		if err != nil && !errors.Is(err, jobs.ErrInvalidTransition) {
			r.nack(ctx, d, "mark failed: "+err.Error())
			return
		}
	}
	r.ack(ctx, d)
}

func (r *Runner) ack(ctx context.Context, d queue.Delivery) {
	if err := r.queue.Ack(ctx, d); err != nil {
		r.logger.Error("ack failed", "message_id", d.MessageID, "error", err)
	}
}

func (r *Runner) nack(ctx context.Context, d queue.Delivery, reason string) {
	if err := r.queue.Nack(ctx, d, reason); err != nil {
		r.logger.Error("nack failed", "message_id", d.MessageID, "error", err)
	}
}
