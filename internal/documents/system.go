package documents

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/pagination"
)

// System defines the public contract for document domain operations.
type System interface {
	Handler(maxUploadSize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Document], error)

	Find(ctx context.Context, id uuid.UUID) (*Document, error)

	// Create uploads the PDF to blob storage, registers the document
	// under its content digest, and dispatches an ingest job.
	Create(ctx context.Context, cmd CreateCommand) (*Document, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// Download streams the stored PDF. The caller must close the reader.
	Download(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error)

	// Reingest dispatches a fresh ingest job for an existing document.
	Reingest(ctx context.Context, id uuid.UUID) (*jobs.Job, error)

	// ReplacePages replaces the stored page text for a document.
	// Page order follows slice order; the operation is idempotent.
	ReplacePages(ctx context.Context, id uuid.UUID, pages []string) error

	// Pages returns the stored page text for a document in page order.
	Pages(ctx context.Context, id uuid.UUID) ([]string, error)

	// MarkIngested records that page text has been extracted and stored.
	MarkIngested(ctx context.Context, id uuid.UUID, pageCount int) error
}
