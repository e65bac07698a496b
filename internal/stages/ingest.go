package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/documents"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/textract"
	"github.com/ratescan/ratescan/pkg/queue"
)

// IngestHandler turns a stored PDF into per-page evidence text and
// hands the document to detection. Replacing the page set is a full
// overwrite, so re-running ingest for a document converges on the same
// state.
type IngestHandler struct {
	documents documents.System
	extractor textract.Extractor
	dispatch  dispatch.System
	logger    *slog.Logger
}

func NewIngestHandler(
	docs documents.System,
	extractor textract.Extractor,
	disp dispatch.System,
	logger *slog.Logger,
) *IngestHandler {
	return &IngestHandler{
		documents: docs,
		extractor: extractor,
		dispatch:  disp,
		logger:    logger.With("stage", jobs.StageIngest),
	}
}

func (h *IngestHandler) Stage() jobs.Stage {
	return jobs.StageIngest
}

func (h *IngestHandler) Execute(ctx context.Context, msg dispatch.Message, d queue.Delivery) error {
	if msg.DocumentID == nil {
		return InputFailure(errors.New("ingest message missing document id"))
	}
	docID := *msg.DocumentID

	rc, _, err := h.documents.Download(ctx, docID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return InputFailure(err)
		}
		return fmt.Errorf("download document: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	pages, err := h.extractor.ExtractPages(data)
	if err != nil {
		// A corrupt PDF or one with no text layer cannot improve on
		// retry.
		return InputFailure(err)
	}

	if err := h.documents.ReplacePages(ctx, docID, pages); err != nil {
		return fmt.Errorf("store pages: %w", err)
	}
	if err := h.documents.MarkIngested(ctx, docID, len(pages)); err != nil {
		return fmt.Errorf("mark ingested: %w", err)
	}

	if _, err := h.dispatch.Enqueue(ctx, dispatch.Message{
		Stage:      jobs.StageDetect,
		DocumentID: &docID,
		TraceID:    msg.TraceID,
	}); err != nil {
		return fmt.Errorf("dispatch detect: %w", err)
	}

	h.logger.Info("document ingested", "document_id", docID, "pages", len(pages))
	return nil
}
