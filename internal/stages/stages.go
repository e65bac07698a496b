// Package stages implements the pipeline workers. Each stage has a
// handler that does the work and a runner that drives it from the
// queue: pull, mark the job running, execute, persist, then ack. The
// persist-before-ack ordering means a crash can only ever duplicate
// work, never lose it, and handlers are written so duplicated work
// converges on the same artifacts.
//
// Failures divide into two families. A transient failure (network,
// timeout, busy resource) nacks the delivery and relies on bounded
// redelivery; the queue dead-letters the message when its attempts run
// out. A permanent failure acks the delivery and records why on the
// job: input failures mean the referenced entities are missing or in
// the wrong state, content failures mean the model's output did not
// hold up. Handlers return PermanentError for the latter two; anything
// else is treated as transient.
package stages

import (
	"context"

	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/queue"
)

// Handler executes one stage's work for a single delivery.
type Handler interface {
	Stage() jobs.Stage
	Execute(ctx context.Context, msg dispatch.Message, d queue.Delivery) error
}

// PermanentError marks a failure retrying cannot fix. The runner acks
// the delivery and records the failure kind on the job instead of
// requeueing.
type PermanentError struct {
	Kind jobs.FailureKind
	Err  error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// InputFailure wraps an error as a permanent input failure: the job
// referenced something missing, malformed, or in the wrong state.
func InputFailure(err error) error {
	return &PermanentError{Kind: jobs.FailureInput, Err: err}
}

// ContentFailure wraps an error as a permanent content failure: the
// call succeeded but what came back is non-compliant.
func ContentFailure(err error) error {
	return &PermanentError{Kind: jobs.FailureContent, Err: err}
}
