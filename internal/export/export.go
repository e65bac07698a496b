// Package export renders the accepted extraction of a schedule into
// distributable artifacts: an XLSX workbook for analysts and a
// canonical JSON document for downstream systems. Artifacts are
// uploaded under a version-keyed path, so re-running an export
// overwrites its own version and never disturbs another.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/schedules"
	"github.com/ratescan/ratescan/pkg/storage"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	jsonContentType = "application/json"
)

var (
	ErrNotExportable = errors.New("extraction version is not valid for export")
	ErrPayloadShape  = errors.New("stored payload cannot be decoded")
)

// Artifacts names the uploaded outputs of one export run.
type Artifacts struct {
	BaseKey string `json:"base_key"`
	XLSXKey string `json:"xlsx_key"`
	JSONKey string `json:"json_key"`
}

type System interface {
	// Export renders and uploads the artifacts for one extraction
	// version, then records the storage key on the schedule. Only
	// versions with valid status are exportable.
	Export(ctx context.Context, scheduleID uuid.UUID, version int) (*Artifacts, error)
}

type service struct {
	schedules schedules.System
	storage   storage.System
	logger    *slog.Logger
}

// New creates an export service over the schedule store and blob storage.
func New(scheds schedules.System, store storage.System, logger *slog.Logger) System {
	return &service{
		schedules: scheds,
		storage:   store,
		logger:    logger.With("system", "export"),
	}
}

func (s *service) Export(ctx context.Context, scheduleID uuid.UUID, version int) (*Artifacts, error) {
	sched, err := s.schedules.Find(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	ext, err := s.schedules.Extraction(ctx, scheduleID, version)
	if err != nil {
		return nil, err
	}
	if ext.Status != schedules.ExtractionValid {
		return nil, ErrNotExportable
	}

	var payload schedules.Payload
	if err := json.Unmarshal(ext.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadShape, err)
	}

	workbook, err := renderXLSX(sched, ext, payload)
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	document, err := renderJSON(sched, ext, payload)
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}

	artifacts := &Artifacts{
		BaseKey: fmt.Sprintf("exports/%s/v%d", scheduleID, version),
	}
	artifacts.XLSXKey = artifacts.BaseKey + ".xlsx"
	artifacts.JSONKey = artifacts.BaseKey + ".json"

	if err := s.storage.Upload(ctx, artifacts.XLSXKey, bytes.NewReader(workbook), xlsxContentType); err != nil {
		return nil, fmt.Errorf("upload workbook: %w", err)
	}
	if err := s.storage.Upload(ctx, artifacts.JSONKey, bytes.NewReader(document), jsonContentType); err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}

	if err := s.schedules.RecordExport(ctx, scheduleID, version, artifacts.BaseKey); err != nil {
		if errors.Is(err, schedules.ErrStaleExport) {
			s.logger.Warn(
				"export superseded before recording",
				"schedule_id", scheduleID,
				"version", version,
			)
			return artifacts, nil
		}
		return nil, err
	}

	s.logger.Info(
		"schedule exported",
		"schedule_id", scheduleID,
		"version", version,
		"key", artifacts.BaseKey,
	)
	return artifacts, nil
}

// exportDocument is the canonical JSON artifact: the accepted payload
// together with enough provenance to trace it back to its evidence.
type exportDocument struct {
	ScheduleID      uuid.UUID         `json:"schedule_id"`
	DocumentID      uuid.UUID         `json:"document_id"`
	Utility         string            `json:"utility"`
	PageStart       int               `json:"page_start"`
	PageEnd         int               `json:"page_end"`
	Version         int               `json:"version"`
	EvidenceVersion int               `json:"evidence_version"`
	Model           *string           `json:"model,omitempty"`
	ContractName    *string           `json:"contract_name,omitempty"`
	ContractVersion *int              `json:"contract_version,omitempty"`
	TraceID         string            `json:"trace_id"`
	ExportedAt      time.Time         `json:"exported_at"`
	Payload         schedules.Payload `json:"payload"`
}

func renderJSON(sched *schedules.Schedule, ext *schedules.Extraction, payload schedules.Payload) ([]byte, error) {
	doc := exportDocument{
		ScheduleID:      sched.ID,
		DocumentID:      sched.DocumentID,
		Utility:         sched.Utility,
		PageStart:       sched.PageStart,
		PageEnd:         sched.PageEnd,
		Version:         ext.Version,
		EvidenceVersion: ext.EvidenceVersion,
		Model:           ext.Model,
		ContractName:    ext.ContractName,
		ContractVersion: ext.ContractVersion,
		TraceID:         ext.TraceID,
		ExportedAt:      time.Now().UTC(),
		Payload:         payload,
	}
	return json.MarshalIndent(doc, "", "  ")
}
