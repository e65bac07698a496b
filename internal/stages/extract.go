package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ratescan/ratescan/internal/contract"
	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/inference"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/schedules"
	"github.com/ratescan/ratescan/internal/validate"
	"github.com/ratescan/ratescan/pkg/formatting"
	"github.com/ratescan/ratescan/pkg/queue"
)

// ExtractHandler runs the inference step for one schedule: build the
// prompt from the pinned evidence version, call the model, validate
// the output against the active contract, and persist the attempt as
// the schedule's next extraction version. Every attempt consumes a
// version; only validated attempts can advance the current pointer.
//
// The handler keys its write on the delivery's message id, so a
// redelivered message resumes after the persisted attempt instead of
// spending another inference call.
type ExtractHandler struct {
	schedules schedules.System
	contracts contract.System
	inference inference.System
	dispatch  dispatch.System
	logger    *slog.Logger
}

func NewExtractHandler(
	scheds schedules.System,
	contracts contract.System,
	inf inference.System,
	disp dispatch.System,
	logger *slog.Logger,
) *ExtractHandler {
	return &ExtractHandler{
		schedules: scheds,
		contracts: contracts,
		inference: inf,
		dispatch:  disp,
		logger:    logger.With("stage", jobs.StageExtract),
	}
}

func (h *ExtractHandler) Stage() jobs.Stage {
	return jobs.StageExtract
}

func (h *ExtractHandler) Execute(ctx context.Context, msg dispatch.Message, d queue.Delivery) error {
	if msg.ScheduleID == nil {
		return InputFailure(errors.New("extract message missing schedule id"))
	}
	if msg.EvidenceVersion == nil {
		return InputFailure(errors.New("extract message missing evidence version"))
	}
	schedID := *msg.ScheduleID

	sched, err := h.schedules.Find(ctx, schedID)
	if err != nil {
		if errors.Is(err, schedules.ErrNotFound) {
			return InputFailure(err)
		}
		return fmt.Errorf("load schedule: %w", err)
	}

	prior, err := h.schedules.ExtractionByOrigin(ctx, schedID, d.MessageID)
	if err != nil {
		return fmt.Errorf("check prior attempt: %w", err)
	}
	if prior != nil {
		return h.finish(ctx, msg, sched, prior)
	}

	evidence, err := h.schedules.Evidence(ctx, schedID, *msg.EvidenceVersion)
	if err != nil {
		if errors.Is(err, schedules.ErrNoEvidence) {
			return InputFailure(err)
		}
		return fmt.Errorf("load evidence: %w", err)
	}

	compiled, err := h.contracts.Active(ctx)
	if err != nil {
		if errors.Is(err, contract.ErrNoActive) {
			return InputFailure(err)
		}
		return fmt.Errorf("load contract: %w", err)
	}

	raw, err := h.inference.Generate(ctx, compiled.BuildPrompt(evidence.Text))
	if err != nil {
		if errors.Is(err, inference.ErrRejected) {
			return InputFailure(err)
		}
		return fmt.Errorf("inference: %w", err)
	}
	model := h.inference.Model()

	cmd := schedules.ExtractionCommand{
		ScheduleID:      schedID,
		RawOutput:       &raw,
		Model:           &model,
		ContractName:    &compiled.Name,
		ContractVersion: &compiled.Version,
		EvidenceVersion: evidence.Version,
		OriginMessageID: d.MessageID,
		TraceID:         msg.TraceID,
	}

	payload, parseErr := formatting.Parse[json.RawMessage](raw)
	if parseErr != nil {
		// The call succeeded but never became a payload; the attempt
		// still consumes a version so the audit trail shows it.
		cmd.Status = schedules.ExtractionError
		ext, err := h.schedules.InsertExtraction(ctx, cmd)
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		return h.finish(ctx, msg, sched, ext)
	}

	result := validate.Check(compiled, payload, evidence, sched)
	cmd.Status = result.Status
	cmd.Payload = payload
	cmd.FieldErrors = result.FieldErrors()

	ext, err := h.schedules.InsertExtraction(ctx, cmd)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	return h.finish(ctx, msg, sched, ext)
}

// finish settles a persisted attempt: valid attempts try to advance
// the current pointer and schedule an export, everything else is a
// permanent content failure with the attempt retained for audit.
func (h *ExtractHandler) finish(
	ctx context.Context,
	msg dispatch.Message,
	sched *schedules.Schedule,
	ext *schedules.Extraction,
) error {
	switch ext.Status {
	case schedules.ExtractionValid:
		promoted, err := h.schedules.PromoteCurrent(ctx, sched.ID, ext.Version)
		if err != nil {
			return fmt.Errorf("promote current: %w", err)
		}

		if promoted {
			if _, err := h.dispatch.Enqueue(ctx, dispatch.Message{
				Stage:      jobs.StageExport,
				ScheduleID: &sched.ID,
				DocumentID: &sched.DocumentID,
				TraceID:    msg.TraceID,
			}); err != nil {
				return fmt.Errorf("dispatch export: %w", err)
			}
		}

		h.logger.Info(
			"extraction accepted",
			"schedule_id", sched.ID,
			"version", ext.Version,
			"promoted", promoted,
		)
		return nil

	case schedules.ExtractionInvalid:
		return ContentFailure(fmt.Errorf("extraction version %d failed validation", ext.Version))

	default:
		return ContentFailure(fmt.Errorf("extraction version %d produced no usable payload", ext.Version))
	}
}
