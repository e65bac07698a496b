package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/pagination"
	"github.com/ratescan/ratescan/pkg/query"
	"github.com/ratescan/ratescan/pkg/repository"
)

const jobColumns = `id, stage, status, failure_kind, failure_detail, attempts,
	document_id, schedule_id, message_id, trace_id, created_at, updated_at, completed_at`

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a job repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "jobs"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Job], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "TraceID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanJob)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Job, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	j, err := repository.QueryOne(ctx, r.db, q, args, scanJob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find job: %w", err)
	}
	return &j, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Job, error) {
	if !cmd.Stage.Valid() {
		return nil, ErrInvalidStage
	}

	q := fmt.Sprintf(`
		INSERT INTO pipeline_jobs(id, stage, status, document_id, schedule_id, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, jobColumns)

	args := []any{uuid.New(), cmd.Stage, StatusQueued, cmd.DocumentID, cmd.ScheduleID, cmd.TraceID}

	j, err := repository.QueryOne(ctx, r.db, q, args, scanJob)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	r.logger.Info("job created", "id", j.ID, "stage", j.Stage, "trace_id", j.TraceID)
	return &j, nil
}

func (r *repo) AttachMessage(ctx context.Context, id, messageID uuid.UUID) error {
	err := repository.ExecExpectOne(
		ctx, r.db,
		`UPDATE pipeline_jobs SET message_id = $2, updated_at = now() WHERE id = $1`,
		id, messageID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("attach message: %w", err)
	}
	return nil
}

func (r *repo) MarkRunning(ctx context.Context, id uuid.UUID) (*Job, error) {
	q := fmt.Sprintf(`
		UPDATE pipeline_jobs
		SET status = $2, attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING %s`, jobColumns)

	args := []any{id, StatusRunning, StatusQueued, StatusRunning}

	j, err := repository.QueryOne(ctx, r.db, q, args, scanJob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.resolveTransition(ctx, id)
		}
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	return &j, nil
}

func (r *repo) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, `
		UPDATE pipeline_jobs
		SET status = $2, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status = $3`,
		id, StatusSucceeded, StatusRunning,
	)
}

func (r *repo) MarkFailed(ctx context.Context, id uuid.UUID, kind FailureKind, detail string) error {
	err := r.transition(ctx, id, `
		UPDATE pipeline_jobs
		SET status = $2, failure_kind = $3, failure_detail = $4, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status IN ($5, $6)`,
		id, StatusFailed, kind, detail, StatusQueued, StatusRunning,
	)
	if err != nil {
		return err
	}

	r.logger.Warn("job failed", "id", id, "kind", kind, "detail", detail)
	return nil
}

func (r *repo) MarkDeadLettered(ctx context.Context, id uuid.UUID, detail string) error {
	err := r.transition(ctx, id, `
		UPDATE pipeline_jobs
		SET status = $2, failure_kind = $3, failure_detail = $4, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status IN ($5, $6)`,
		id, StatusDeadLettered, FailureExhausted, detail, StatusQueued, StatusRunning,
	)
	if err != nil {
		return err
	}

	r.logger.Warn("job dead-lettered", "id", id, "detail", detail)
	return nil
}

func (r *repo) transition(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	err := repository.ExecExpectOne(ctx, r.db, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.resolveTransition(ctx, id)
		}
		return fmt.Errorf("job transition: %w", err)
	}
	return nil
}

// resolveTransition distinguishes a missing job from one whose current
// status rejects the attempted transition.
func (r *repo) resolveTransition(ctx context.Context, id uuid.UUID) error {
	if _, err := r.Find(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}
