package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/pagination"
)

// System defines the public contract for job domain operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Job], error)

	Find(ctx context.Context, id uuid.UUID) (*Job, error)

	// Create records a new job in the queued state. The record is
	// written before the corresponding queue message is published.
	Create(ctx context.Context, cmd CreateCommand) (*Job, error)

	// AttachMessage stores the published queue message id on the job.
	AttachMessage(ctx context.Context, id, messageID uuid.UUID) error

	// MarkRunning transitions the job to running and increments its
	// attempt counter. Valid from queued or running (redelivery).
	MarkRunning(ctx context.Context, id uuid.UUID) (*Job, error)

	// MarkSucceeded completes a running job.
	MarkSucceeded(ctx context.Context, id uuid.UUID) error

	// MarkFailed terminates a job with a permanent failure kind.
	MarkFailed(ctx context.Context, id uuid.UUID, kind FailureKind, detail string) error

	// MarkDeadLettered terminates a job whose message exhausted its
	// delivery attempts.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, detail string) error
}
