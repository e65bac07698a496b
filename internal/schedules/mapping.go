package schedules

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/query"
	"github.com/ratescan/ratescan/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "rate_schedules", "s").
	Project("id", "ID").
	Project("document_id", "DocumentID").
	Project("utility", "Utility").
	Project("detection_run", "DetectionRun").
	Project("page_start", "PageStart").
	Project("page_end", "PageEnd").
	Project("score", "Score").
	Project("status", "Status").
	Project("current_version", "CurrentVersion").
	Project("export_storage_key", "ExportStorageKey").
	Project("exported_at", "ExportedAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for schedule queries.
// Nil fields are ignored; all filters use exact matching.
type Filters struct {
	DocumentID   *uuid.UUID `json:"document_id,omitempty"`
	Utility      *string    `json:"utility,omitempty"`
	DetectionRun *int       `json:"detection_run,omitempty"`
	Status       *string    `json:"status,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("DocumentID", f.DocumentID).
		WhereEquals("Utility", f.Utility).
		WhereEquals("DetectionRun", f.DetectionRun).
		WhereEquals("Status", f.Status)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("document_id"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			f.DocumentID = &id
		}
	}

	if s := values.Get("utility"); s != "" {
		f.Utility = &s
	}

	if s := values.Get("detection_run"); s != "" {
		if run, err := strconv.Atoi(s); err == nil {
			f.DetectionRun = &run
		}
	}

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	return f
}

// prefixColumns qualifies every column in a comma-separated list with
// a table alias, for queries that join against another table.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanSchedule(s repository.Scanner) (Schedule, error) {
	var sc Schedule
	err := s.Scan(
		&sc.ID,
		&sc.DocumentID,
		&sc.Utility,
		&sc.DetectionRun,
		&sc.PageStart,
		&sc.PageEnd,
		&sc.Score,
		&sc.Status,
		&sc.CurrentVersion,
		&sc.ExportStorageKey,
		&sc.ExportedAt,
		&sc.CreatedAt,
		&sc.UpdatedAt,
	)
	return sc, err
}

func scanExtraction(s repository.Scanner) (Extraction, error) {
	var e Extraction
	err := s.Scan(
		&e.ScheduleID,
		&e.Version,
		&e.Status,
		&e.Payload,
		&e.RawOutput,
		&e.FieldErrors,
		&e.Model,
		&e.ContractName,
		&e.ContractVersion,
		&e.EvidenceVersion,
		&e.OriginMessageID,
		&e.TraceID,
		&e.CreatedAt,
	)
	return e, err
}
