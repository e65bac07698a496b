package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/export"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/schedules"
	"github.com/ratescan/ratescan/pkg/queue"
)

// ExportHandler renders the artifacts for whatever version is current
// when the job runs. Export messages do not pin a version: if a newer
// valid extraction was promoted since dispatch, exporting it is the
// better outcome, and its upload path is version-keyed either way.
type ExportHandler struct {
	schedules schedules.System
	exporter  export.System
	logger    *slog.Logger
}

func NewExportHandler(scheds schedules.System, exporter export.System, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		schedules: scheds,
		exporter:  exporter,
		logger:    logger.With("stage", jobs.StageExport),
	}
}

func (h *ExportHandler) Stage() jobs.Stage {
	return jobs.StageExport
}

func (h *ExportHandler) Execute(ctx context.Context, msg dispatch.Message, d queue.Delivery) error {
	if msg.ScheduleID == nil {
		return InputFailure(errors.New("export message missing schedule id"))
	}
	schedID := *msg.ScheduleID

	current, err := h.schedules.Current(ctx, schedID)
	if err != nil {
		if errors.Is(err, schedules.ErrNotFound) || errors.Is(err, schedules.ErrNoCurrent) {
			return InputFailure(err)
		}
		return fmt.Errorf("load current extraction: %w", err)
	}

	artifacts, err := h.exporter.Export(ctx, schedID, current.Version)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrNotExportable):
			return InputFailure(err)
		case errors.Is(err, export.ErrPayloadShape):
			return ContentFailure(err)
		case errors.Is(err, schedules.ErrNotFound):
			return InputFailure(err)
		}
		return fmt.Errorf("export schedule: %w", err)
	}

	h.logger.Info(
		"schedule export completed",
		"schedule_id", schedID,
		"version", current.Version,
		"key", artifacts.BaseKey,
	)
	return nil
}
