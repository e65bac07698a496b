package schedules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/pagination"
	"github.com/ratescan/ratescan/pkg/query"
	"github.com/ratescan/ratescan/pkg/repository"
)

const scheduleColumns = `id, document_id, utility, detection_run, page_start, page_end,
	score, status, current_version, export_storage_key, exported_at, created_at, updated_at`

const extractionColumns = `schedule_id, version, status, payload, raw_output, field_errors,
	model, contract_name, contract_version, evidence_version, origin_message_id, trace_id, created_at`

type repo struct {
	db         *sql.DB
	dispatch   dispatch.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a schedule repository implementing the System interface.
func New(
	db *sql.DB,
	disp dispatch.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		dispatch:   disp,
		logger:     logger.With("system", "schedules"),
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
) (*pagination.PageResult[Schedule], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Utility")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count schedules: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	scheds, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanSchedule)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}

	result := pagination.NewPageResult(scheds, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	s, err := repository.QueryOne(ctx, r.db, q, args, scanSchedule)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find schedule %s: %w", id, err)
	}
	return &s, nil
}

func (r *repo) CreateForDetection(ctx context.Context, cmd DetectionCommand) ([]Schedule, error) {
	if len(cmd.Ranges) == 0 {
		return nil, ErrNoRanges
	}
	if cmd.Utility == "" {
		cmd.Utility = "unknown_utility"
	}

	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) ([]Schedule, error) {
		// A redelivered detect message must not open another detection
		// run; the schedules its first delivery wrote are the result.
		prior, err := repository.QueryMany(ctx, tx, fmt.Sprintf(`
			SELECT %s FROM rate_schedules
			WHERE detect_message_id = $1
			ORDER BY page_start`, scheduleColumns),
			[]any{cmd.OriginMessageID}, scanSchedule,
		)
		if err != nil {
			return nil, fmt.Errorf("check detection origin: %w", err)
		}
		if len(prior) > 0 {
			return prior, nil
		}

		var run int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(detection_run), 0) + 1
			FROM rate_schedules
			WHERE document_id = $1`,
			cmd.DocumentID,
		).Scan(&run); err != nil {
			return nil, fmt.Errorf("next detection run: %w", err)
		}

		insertSchedule := fmt.Sprintf(`
			INSERT INTO rate_schedules(id, document_id, utility, detection_run,
				page_start, page_end, score, status, detect_message_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING %s`, scheduleColumns)

		created := make([]Schedule, 0, len(cmd.Ranges))
		for _, rng := range cmd.Ranges {
			s, err := repository.QueryOne(ctx, tx, insertSchedule, []any{
				uuid.New(),
				cmd.DocumentID,
				cmd.Utility,
				run,
				rng.PageStart,
				rng.PageEnd,
				rng.Score,
				StatusDetected,
				cmd.OriginMessageID,
			}, scanSchedule)
			if err != nil {
				return nil, fmt.Errorf("insert schedule: %w", err)
			}

			offsets, err := json.Marshal(rng.Offsets)
			if err != nil {
				return nil, fmt.Errorf("encode page offsets: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rate_texts(schedule_id, evidence_version, text, page_offsets)
				VALUES ($1, 1, $2, $3)`,
				s.ID, rng.Text, offsets,
			); err != nil {
				return nil, fmt.Errorf("insert evidence: %w", err)
			}

			created = append(created, s)
		}

		r.logger.Info(
			"detection recorded",
			"document_id", cmd.DocumentID,
			"run", run,
			"schedules", len(created),
		)
		return created, nil
	})
}

func (r *repo) Evidence(ctx context.Context, scheduleID uuid.UUID, version int) (*RateText, error) {
	return r.queryEvidence(ctx, `
		SELECT schedule_id, evidence_version, text, page_offsets, created_at
		FROM rate_texts
		WHERE schedule_id = $1 AND evidence_version = $2`,
		scheduleID, version,
	)
}

func (r *repo) LatestEvidence(ctx context.Context, scheduleID uuid.UUID) (*RateText, error) {
	return r.queryEvidence(ctx, `
		SELECT schedule_id, evidence_version, text, page_offsets, created_at
		FROM rate_texts
		WHERE schedule_id = $1
		ORDER BY evidence_version DESC
		LIMIT 1`,
		scheduleID,
	)
}

func (r *repo) queryEvidence(ctx context.Context, q string, args ...any) (*RateText, error) {
	var (
		rt      RateText
		offsets []byte
	)

	err := r.db.QueryRowContext(ctx, q, args...).
		Scan(&rt.ScheduleID, &rt.Version, &rt.Text, &offsets, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoEvidence
		}
		return nil, fmt.Errorf("query evidence: %w", err)
	}

	if err := json.Unmarshal(offsets, &rt.PageOffsets); err != nil {
		return nil, fmt.Errorf("decode page offsets: %w", err)
	}
	return &rt, nil
}

func (r *repo) InsertExtraction(ctx context.Context, cmd ExtractionCommand) (*Extraction, error) {
	switch cmd.Status {
	case ExtractionValid, ExtractionInvalid, ExtractionError:
	default:
		return nil, ErrBadOutcome
	}

	// The next version is claimed inside the insert itself. Extract
	// work for one schedule is serialized by the queue, so the
	// subselect cannot race with another writer.
	q := fmt.Sprintf(`
		INSERT INTO rate_extractions(schedule_id, version, status, payload, raw_output,
			field_errors, model, contract_name, contract_version, evidence_version,
			origin_message_id, trace_id)
		VALUES ($1,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM rate_extractions WHERE schedule_id = $1),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING %s`, extractionColumns)

	e, err := repository.QueryOne(ctx, r.db, q, []any{
		cmd.ScheduleID,
		cmd.Status,
		cmd.Payload,
		cmd.RawOutput,
		cmd.FieldErrors,
		cmd.Model,
		cmd.ContractName,
		cmd.ContractVersion,
		cmd.EvidenceVersion,
		cmd.OriginMessageID,
		cmd.TraceID,
	}, scanExtraction)
	if err != nil {
		return nil, fmt.Errorf("insert extraction: %w", err)
	}

	r.logger.Info(
		"extraction recorded",
		"schedule_id", e.ScheduleID,
		"version", e.Version,
		"status", e.Status,
	)
	return &e, nil
}

func (r *repo) ExtractionByOrigin(ctx context.Context, scheduleID, messageID uuid.UUID) (*Extraction, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM rate_extractions
		WHERE schedule_id = $1 AND origin_message_id = $2`, extractionColumns)

	e, err := repository.QueryOne(ctx, r.db, q, []any{scheduleID, messageID}, scanExtraction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query extraction by origin: %w", err)
	}
	return &e, nil
}

func (r *repo) Extraction(ctx context.Context, scheduleID uuid.UUID, version int) (*Extraction, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM rate_extractions
		WHERE schedule_id = $1 AND version = $2`, extractionColumns)

	e, err := repository.QueryOne(ctx, r.db, q, []any{scheduleID, version}, scanExtraction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query extraction: %w", err)
	}
	return &e, nil
}

func (r *repo) Extractions(ctx context.Context, scheduleID uuid.UUID) ([]Extraction, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM rate_extractions
		WHERE schedule_id = $1
		ORDER BY version DESC`, extractionColumns)

	exts, err := repository.QueryMany(ctx, r.db, q, []any{scheduleID}, scanExtraction)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}
	return exts, nil
}

func (r *repo) Current(ctx context.Context, scheduleID uuid.UUID) (*Extraction, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM rate_extractions e
		JOIN rate_schedules s ON s.id = e.schedule_id AND s.current_version = e.version
		WHERE s.id = $1`,
		prefixColumns("e", extractionColumns))

	e, err := repository.QueryOne(ctx, r.db, q, []any{scheduleID}, scanExtraction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, findErr := r.Find(ctx, scheduleID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrNoCurrent
		}
		return nil, fmt.Errorf("query current extraction: %w", err)
	}
	return &e, nil
}

func (r *repo) PromoteCurrent(ctx context.Context, scheduleID uuid.UUID, version int) (bool, error) {
	// The pointer only moves forward, and only onto versions that
	// passed validation. Anything else leaves the row untouched.
	res, err := r.db.ExecContext(ctx, `
		UPDATE rate_schedules
		SET current_version = $2, status = $3, updated_at = now()
		WHERE id = $1
		  AND (current_version IS NULL OR current_version < $2)
		  AND EXISTS (
			SELECT 1 FROM rate_extractions e
			WHERE e.schedule_id = $1 AND e.version = $2 AND e.status = $4
		  )`,
		scheduleID, version, StatusExtracted, ExtractionValid,
	)
	if err != nil {
		return false, fmt.Errorf("promote current: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("promote current: %w", err)
	}

	if rows > 0 {
		r.logger.Info("current version advanced", "schedule_id", scheduleID, "version", version)
		return true, nil
	}
	return false, nil
}

func (r *repo) RecordExport(ctx context.Context, id uuid.UUID, version int, key string) error {
	// Guarded on the current pointer: if promotion moved past this
	// version while the artifacts were rendering, the record is stale
	// and the newer version's own export will land instead.
	err := repository.ExecExpectOne(
		ctx, r.db, `
		UPDATE rate_schedules
		SET export_storage_key = $2, exported_at = now(), updated_at = now()
		WHERE id = $1 AND current_version = $3`,
		id, key, version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleExport
		}
		return fmt.Errorf("record export: %w", err)
	}

	r.logger.Info("export recorded", "schedule_id", id, "version", version, "key", key)
	return nil
}

func (r *repo) Reextract(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	s, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	evidence, err := r.LatestEvidence(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := r.dispatch.Enqueue(ctx, dispatch.Message{
		Stage:           jobs.StageExtract,
		ScheduleID:      &s.ID,
		DocumentID:      &s.DocumentID,
		EvidenceVersion: &evidence.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch extract: %w", err)
	}
	return job, nil
}
