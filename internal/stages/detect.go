package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ratescan/ratescan/internal/detect"
	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/documents"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/schedules"
	"github.com/ratescan/ratescan/pkg/queue"
)

// DetectHandler finds rate-schedule boundaries in a document's page
// text, records a schedule with assembled evidence for each range, and
// dispatches an extract job per schedule. A document with no marker
// pages is a successful run that produces nothing.
type DetectHandler struct {
	documents documents.System
	schedules schedules.System
	dispatch  dispatch.System
	options   detect.Options
	logger    *slog.Logger
}

func NewDetectHandler(
	docs documents.System,
	scheds schedules.System,
	disp dispatch.System,
	options detect.Options,
	logger *slog.Logger,
) *DetectHandler {
	return &DetectHandler{
		documents: docs,
		schedules: scheds,
		dispatch:  disp,
		options:   options,
		logger:    logger.With("stage", jobs.StageDetect),
	}
}

func (h *DetectHandler) Stage() jobs.Stage {
	return jobs.StageDetect
}

func (h *DetectHandler) Execute(ctx context.Context, msg dispatch.Message, d queue.Delivery) error {
	if msg.DocumentID == nil {
		return InputFailure(errors.New("detect message missing document id"))
	}
	docID := *msg.DocumentID

	doc, err := h.documents.Find(ctx, docID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return InputFailure(err)
		}
		return fmt.Errorf("load document: %w", err)
	}

	pages, err := h.documents.Pages(ctx, docID)
	if err != nil {
		if errors.Is(err, documents.ErrNotIngested) || errors.Is(err, documents.ErrNotFound) {
			return InputFailure(err)
		}
		return fmt.Errorf("load pages: %w", err)
	}

	hits := detect.ScorePages(pages)
	ranges := detect.ExpandRanges(detect.ClusterRanges(hits, h.options.Gap), len(pages), h.options.PadAfter)
	if len(ranges) == 0 {
		h.logger.Info("no rate schedules detected", "document_id", docID, "pages", len(pages))
		return nil
	}

	cmd := schedules.DetectionCommand{
		DocumentID:      docID,
		Utility:         doc.Utility,
		OriginMessageID: d.MessageID,
	}
	for _, rng := range ranges {
		text, offsets := schedules.BuildEvidence(pages, rng)
		cmd.Ranges = append(cmd.Ranges, schedules.DetectedRange{
			PageStart: rng.Start + 1,
			PageEnd:   rng.End + 1,
			Score:     detect.RangeScore(hits, rng),
			Text:      text,
			Offsets:   offsets,
		})
	}

	created, err := h.schedules.CreateForDetection(ctx, cmd)
	if err != nil {
		return fmt.Errorf("record detection: %w", err)
	}

	for _, s := range created {
		// Evidence for a freshly detected schedule is always its
		// first version.
		evidenceVersion := 1
		if _, err := h.dispatch.Enqueue(ctx, dispatch.Message{
			Stage:           jobs.StageExtract,
			ScheduleID:      &s.ID,
			DocumentID:      &docID,
			EvidenceVersion: &evidenceVersion,
			TraceID:         msg.TraceID,
		}); err != nil {
			return fmt.Errorf("dispatch extract for %s: %w", s.ID, err)
		}
	}

	h.logger.Info(
		"detection completed",
		"document_id", docID,
		"schedules", len(created),
	)
	return nil
}
