package jobs

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/query"
	"github.com/ratescan/ratescan/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "pipeline_jobs", "j").
	Project("id", "ID").
	Project("stage", "Stage").
	Project("status", "Status").
	Project("failure_kind", "FailureKind").
	Project("failure_detail", "FailureDetail").
	Project("attempts", "Attempts").
	Project("document_id", "DocumentID").
	Project("schedule_id", "ScheduleID").
	Project("message_id", "MessageID").
	Project("trace_id", "TraceID").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt").
	Project("completed_at", "CompletedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for job queries.
// Nil fields are ignored; all filters use exact matching.
type Filters struct {
	Stage       *string    `json:"stage,omitempty"`
	Status      *string    `json:"status,omitempty"`
	FailureKind *string    `json:"failure_kind,omitempty"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	ScheduleID  *uuid.UUID `json:"schedule_id,omitempty"`
	TraceID     *string    `json:"trace_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Stage", f.Stage).
		WhereEquals("Status", f.Status).
		WhereEquals("FailureKind", f.FailureKind).
		WhereEquals("DocumentID", f.DocumentID).
		WhereEquals("ScheduleID", f.ScheduleID).
		WhereEquals("TraceID", f.TraceID)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("stage"); s != "" {
		f.Stage = &s
	}

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if s := values.Get("failure_kind"); s != "" {
		f.FailureKind = &s
	}

	if s := values.Get("document_id"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			f.DocumentID = &id
		}
	}

	if s := values.Get("schedule_id"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			f.ScheduleID = &id
		}
	}

	if s := values.Get("trace_id"); s != "" {
		f.TraceID = &s
	}

	return f
}

func scanJob(s repository.Scanner) (Job, error) {
	var j Job
	err := s.Scan(
		&j.ID,
		&j.Stage,
		&j.Status,
		&j.FailureKind,
		&j.FailureDetail,
		&j.Attempts,
		&j.DocumentID,
		&j.ScheduleID,
		&j.MessageID,
		&j.TraceID,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	return j, err
}
