// Package dispatch implements write-ahead job dispatch. Every stage
// execution request is recorded as a pipeline job before its queue
// message is published, so a failed publish leaves a queryable failed
// job instead of silently lost work.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/queue"
)

// SubjectPrefix is the root of the pipeline subject hierarchy.
const SubjectPrefix = "jobs."

// SubjectFor returns the queue subject for a stage.
func SubjectFor(stage jobs.Stage) string {
	return SubjectPrefix + string(stage)
}

// Message is the wire payload carried by every pipeline queue message.
// JobID correlates the delivery back to its pipeline job; the dispatcher
// assigns it during Enqueue.
type Message struct {
	JobID           uuid.UUID  `json:"job_id"`
	Stage           jobs.Stage `json:"stage"`
	ScheduleID      *uuid.UUID `json:"schedule_id,omitempty"`
	DocumentID      *uuid.UUID `json:"document_id,omitempty"`
	EvidenceVersion *int       `json:"evidence_version,omitempty"`
	TraceID         string     `json:"trace_id"`
}

// System defines the public contract for dispatching stage work.
type System interface {
	// Enqueue records a job for the message's stage and publishes the
	// message. The returned job is in the queued state. If the publish
	// fails, the job is marked failed with the publish failure kind and
	// the publish error is returned.
	Enqueue(ctx context.Context, msg Message) (*jobs.Job, error)

	// HandleDeadLetter marks the originating job of a dead-lettered
	// message as dead_lettered. Registered as the queue's dead-letter
	// observer during wiring.
	HandleDeadLetter(ctx context.Context, dl queue.DeadLetter)
}

type dispatcher struct {
	queue  queue.System
	jobs   jobs.System
	logger *slog.Logger
}

// New creates a dispatcher over the given queue and job systems.
func New(q queue.System, js jobs.System, logger *slog.Logger) System {
	return &dispatcher{
		queue:  q,
		jobs:   js,
		logger: logger.With("system", "dispatch"),
	}
}

func (d *dispatcher) Enqueue(ctx context.Context, msg Message) (*jobs.Job, error) {
	if !msg.Stage.Valid() {
		return nil, jobs.ErrInvalidStage
	}
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}

	job, err := d.jobs.Create(ctx, jobs.CreateCommand{
		Stage:      msg.Stage,
		DocumentID: msg.DocumentID,
		ScheduleID: msg.ScheduleID,
		TraceID:    msg.TraceID,
	})
	if err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}

	msg.JobID = job.ID
	payload, err := json.Marshal(msg)
	if err != nil {
		d.failPublish(ctx, job.ID, err)
		return nil, fmt.Errorf("encode message: %w", err)
	}

	msgID, err := d.queue.Publish(ctx, SubjectFor(msg.Stage), payload)
	if err != nil {
		d.failPublish(ctx, job.ID, err)
		return nil, fmt.Errorf("publish %s: %w", SubjectFor(msg.Stage), err)
	}

	if err := d.jobs.AttachMessage(ctx, job.ID, msgID); err != nil {
		d.logger.Warn("attach message to job failed", "job_id", job.ID, "message_id", msgID, "error", err)
	}

	d.logger.Info("job dispatched",
		"job_id", job.ID,
		"stage", msg.Stage,
		"message_id", msgID,
		"trace_id", msg.TraceID,
	)
	return job, nil
}

func (d *dispatcher) failPublish(ctx context.Context, jobID uuid.UUID, cause error) {
	if err := d.jobs.MarkFailed(ctx, jobID, jobs.FailurePublish, cause.Error()); err != nil {
		d.logger.Error("mark publish failure failed", "job_id", jobID, "error", err)
	}
}

func (d *dispatcher) HandleDeadLetter(ctx context.Context, dl queue.DeadLetter) {
	var msg Message
	if err := json.Unmarshal(dl.Payload, &msg); err != nil || msg.JobID == uuid.Nil {
		d.logger.Warn("dead letter without recoverable job id",
			"message_id", dl.MessageID,
			"subject", dl.Subject,
		)
		return
	}

	err := d.jobs.MarkDeadLettered(ctx, msg.JobID, dl.LastError)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			// Job already reached a terminal state; nothing to record.
			return
		}
		d.logger.Error("mark job dead-lettered failed", "job_id", msg.JobID, "error", err)
	}
}
