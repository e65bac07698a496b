// Package jobs implements the pipeline job domain. A Job is the durable
// record of one stage execution request: it is written before the
// corresponding queue message is published and tracks delivery attempts
// and terminal outcome, so queue state never has to be inspected to
// answer what happened to a piece of work.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies a pipeline stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageIngest  Stage = "ingest"
	StageDetect  Stage = "detect"
	StageExtract Stage = "extract"
	StageExport  Stage = "export"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageIngest, StageDetect, StageExtract, StageExport:
		return true
	}
	return false
}

// Status is the lifecycle state of a job. Transitions are monotonic:
// queued -> running -> succeeded | failed | dead_lettered. Terminal
// states never change.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDeadLettered:
		return true
	}
	return false
}

// FailureKind distinguishes why a job stopped making progress.
type FailureKind string

const (
	// FailurePublish marks a job whose queue publish failed after the
	// job record was written.
	FailurePublish FailureKind = "publish"
	// FailureInput marks a permanent failure of the input itself:
	// missing document, undecodable file, malformed request.
	FailureInput FailureKind = "input"
	// FailureContent marks a permanent failure of produced content:
	// schema violations, unresolvable citations.
	FailureContent FailureKind = "content"
	// FailureExhausted marks a job whose message ran out of delivery
	// attempts and was dead-lettered.
	FailureExhausted FailureKind = "exhausted"
)

// Job is the durable record of one stage execution request.
type Job struct {
	ID            uuid.UUID    `json:"id"`
	Stage         Stage        `json:"stage"`
	Status        Status       `json:"status"`
	FailureKind   *FailureKind `json:"failure_kind,omitempty"`
	FailureDetail *string      `json:"failure_detail,omitempty"`
	Attempts      int          `json:"attempts"`
	DocumentID    *uuid.UUID   `json:"document_id,omitempty"`
	ScheduleID    *uuid.UUID   `json:"schedule_id,omitempty"`
	MessageID     *uuid.UUID   `json:"message_id,omitempty"`
	TraceID       string       `json:"trace_id"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// CreateCommand carries the data needed to record a new job.
type CreateCommand struct {
	Stage      Stage
	DocumentID *uuid.UUID
	ScheduleID *uuid.UUID
	TraceID    string
}
