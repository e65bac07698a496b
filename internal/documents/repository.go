package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/formatting"
	"github.com/ratescan/ratescan/pkg/pagination"
	"github.com/ratescan/ratescan/pkg/query"
	"github.com/ratescan/ratescan/pkg/repository"
	"github.com/ratescan/ratescan/pkg/storage"
)

const documentColumns = `id, utility, filename, content_type, size_bytes, sha256,
	page_count, storage_key, status, uploaded_at, updated_at, ingested_at`

type repo struct {
	db         *sql.DB
	storage    storage.System
	dispatch   dispatch.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a document repository implementing the System interface.
func New(
	db *sql.DB,
	store storage.System,
	disp dispatch.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		dispatch:   disp,
		logger:     logger.With("system", "documents"),
		pagination: pagination,
	}
}

func (r *repo) Handler(maxUploadSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxUploadSize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Document], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Filename", "Utility")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	docs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	result := pagination.NewPageResult(docs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Document, error) {
	if len(cmd.Data) == 0 {
		return nil, ErrInvalidFile
	}
	if cmd.Utility == "" {
		cmd.Utility = "unknown_utility"
	}

	id := uuid.New()
	digest := digestFor(cmd.Data)
	key := buildStorageKey(id, sanitizeFilename(cmd.Filename))

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), cmd.ContentType); err != nil {
		return nil, fmt.Errorf("upload document blob: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO documents(id, utility, filename, content_type, size_bytes, sha256, page_count, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s`, documentColumns)

	insertArgs := []any{
		id,
		cmd.Utility,
		cmd.Filename,
		cmd.ContentType,
		int64(len(cmd.Data)),
		digest,
		cmd.PageCount,
		key,
	}

	d, err := repository.QueryOne(ctx, r.db, q, insertArgs, scanDocument)
	if err != nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating blob delete failed", "key", key, "error", delErr)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document registered",
		"id", d.ID,
		"filename", d.Filename,
		"size", formatting.FormatBytes(d.SizeBytes, 1),
		"sha256", d.SHA256,
	)

	if _, err := r.dispatch.Enqueue(ctx, dispatch.Message{
		Stage:      jobs.StageIngest,
		DocumentID: &d.ID,
	}); err != nil {
		// The failed job record carries the publish failure; the upload
		// itself stands and can be re-dispatched via Reingest.
		r.logger.Error("ingest dispatch failed", "document_id", d.ID, "error", err)
	}

	return &d, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return err
	}

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM documents WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if delErr := r.storage.Delete(ctx, doc.StorageKey); delErr != nil {
		r.logger.Warn(
			"blob delete failed after DB delete",
			"key", doc.StorageKey,
			"error", delErr,
		)
	}

	r.logger.Info("document deleted", "id", id)
	return nil
}

func (r *repo) Download(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error) {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return nil, "", err
	}

	rc, err := r.storage.Download(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("download document blob: %w", err)
	}

	return rc, doc.ContentType, nil
}

func (r *repo) Reingest(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := r.dispatch.Enqueue(ctx, dispatch.Message{
		Stage:      jobs.StageIngest,
		DocumentID: &doc.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch ingest: %w", err)
	}
	return job, nil
}

func (r *repo) ReplacePages(ctx context.Context, id uuid.UUID, pages []string) error {
	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM document_pages WHERE document_id = $1", id); err != nil {
			return struct{}{}, fmt.Errorf("clear pages: %w", err)
		}

		const insert = "INSERT INTO document_pages(document_id, page_index, text) VALUES ($1, $2, $3)"
		for i, text := range pages {
			if _, err := tx.ExecContext(ctx, insert, id, i, text); err != nil {
				return struct{}{}, fmt.Errorf("insert page %d: %w", i, err)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("replace pages for %s: %w", id, err)
	}

	return nil
}

func (r *repo) Pages(ctx context.Context, id uuid.UUID) ([]string, error) {
	q := "SELECT text FROM document_pages WHERE document_id = $1 ORDER BY page_index"

	pages, err := repository.QueryMany(ctx, r.db, q, []any{id}, func(s repository.Scanner) (string, error) {
		var text string
		err := s.Scan(&text)
		return text, err
	})
	if err != nil {
		return nil, fmt.Errorf("query pages for %s: %w", id, err)
	}
	if len(pages) == 0 {
		return nil, ErrNotIngested
	}

	return pages, nil
}

func (r *repo) MarkIngested(ctx context.Context, id uuid.UUID, pageCount int) error {
	err := repository.ExecExpectOne(
		ctx, r.db, `
		UPDATE documents
		SET status = $2, page_count = $3, ingested_at = now(), updated_at = now()
		WHERE id = $1`,
		id, StatusIngested, pageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("mark ingested: %w", err)
	}

	r.logger.Info("document ingested", "id", id, "pages", pageCount)
	return nil
}

func digestFor(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func buildStorageKey(id uuid.UUID, filename string) string {
	return fmt.Sprintf("documents/%s/%s", id, filename)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "" {
		name = "document"
	}
	return url.PathEscape(name)
}
