// Package schedules implements the rate schedule domain: detected
// schedule boundaries, the assembled evidence text extraction runs
// against, and the versioned extraction results themselves. Extraction
// versions under a schedule strictly increase and are never rewritten;
// the schedule's current version only ever moves forward, and only onto
// versions that passed validation.
package schedules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Schedule lifecycle states.
const (
	// StatusDetected marks a schedule whose boundaries and evidence
	// exist but which has no accepted extraction yet.
	StatusDetected = "detected"
	// StatusExtracted marks a schedule with a current valid extraction.
	StatusExtracted = "extracted"
)

// Extraction outcome states.
const (
	// ExtractionValid marks a payload that passed schema and citation
	// validation. Only valid versions are eligible to become current.
	ExtractionValid = "valid"
	// ExtractionInvalid marks a structurally parseable payload that
	// failed validation; the payload and findings are retained.
	ExtractionInvalid = "invalid"
	// ExtractionError marks an attempt whose output never became a
	// payload (inference failure, unparseable output).
	ExtractionError = "error"
)

// Schedule represents one detected rate schedule within a document.
// PageStart and PageEnd are 1-based inclusive page numbers. Each
// detection pass over a document produces a fresh set of schedules
// under an incremented DetectionRun; earlier runs are left untouched.
type Schedule struct {
	ID               uuid.UUID  `json:"id"`
	DocumentID       uuid.UUID  `json:"document_id"`
	Utility          string     `json:"utility"`
	DetectionRun     int        `json:"detection_run"`
	PageStart        int        `json:"page_start"`
	PageEnd          int        `json:"page_end"`
	Score            int        `json:"score"`
	Status           string     `json:"status"`
	CurrentVersion   *int       `json:"current_version,omitempty"`
	ExportStorageKey *string    `json:"export_storage_key,omitempty"`
	ExportedAt       *time.Time `json:"exported_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RateText is the assembled evidence for one schedule, versioned per
// detection. The text carries page markers and PageOffsets maps 1-based
// page numbers to the character span of that page's text, which is how
// citations are resolved. Rows are immutable once written.
type RateText struct {
	ScheduleID  uuid.UUID   `json:"schedule_id"`
	Version     int         `json:"evidence_version"`
	Text        string      `json:"text"`
	PageOffsets PageOffsets `json:"page_offsets"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PageText returns the evidence text for a cited page number.
func (rt *RateText) PageText(page int) (string, bool) {
	span, ok := rt.PageOffsets[page]
	if !ok || span.Start < 0 || span.End > len(rt.Text) || span.Start > span.End {
		return "", false
	}
	return rt.Text[span.Start:span.End], true
}

// Extraction is one versioned extraction attempt for a schedule.
// Every attempt consumes a version regardless of outcome, so version
// numbers alone tell the full retry history. OriginMessageID records
// the queue delivery that produced the row; a redelivered message finds
// its existing row by origin instead of re-running inference.
type Extraction struct {
	ScheduleID      uuid.UUID       `json:"schedule_id"`
	Version         int             `json:"version"`
	Status          string          `json:"status"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RawOutput       *string         `json:"raw_output,omitempty"`
	FieldErrors     json.RawMessage `json:"field_errors,omitempty"`
	Model           *string         `json:"model,omitempty"`
	ContractName    *string         `json:"contract_name,omitempty"`
	ContractVersion *int            `json:"contract_version,omitempty"`
	EvidenceVersion int             `json:"evidence_version"`
	OriginMessageID *uuid.UUID      `json:"origin_message_id,omitempty"`
	TraceID         string          `json:"trace_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DetectedRange carries one schedule boundary with its assembled
// evidence, produced by the detect stage.
type DetectedRange struct {
	PageStart int
	PageEnd   int
	Score     int
	Text      string
	Offsets   PageOffsets
}

// DetectionCommand records the full result of one detection pass.
// OriginMessageID identifies the detect delivery; a redelivered message
// reuses the schedules already created under the same origin.
type DetectionCommand struct {
	DocumentID      uuid.UUID
	Utility         string
	Ranges          []DetectedRange
	OriginMessageID uuid.UUID
}

// ExtractionCommand carries one extraction attempt for persistence.
// The version is assigned by the repository.
type ExtractionCommand struct {
	ScheduleID      uuid.UUID
	Status          string
	Payload         json.RawMessage
	RawOutput       *string
	FieldErrors     json.RawMessage
	Model           *string
	ContractName    *string
	ContractVersion *int
	EvidenceVersion int
	OriginMessageID uuid.UUID
	TraceID         string
}
