package documents

import (
	"net/url"

	"github.com/ratescan/ratescan/pkg/query"
	"github.com/ratescan/ratescan/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "documents", "d").
	Project("id", "ID").
	Project("utility", "Utility").
	Project("filename", "Filename").
	Project("content_type", "ContentType").
	Project("size_bytes", "SizeBytes").
	Project("sha256", "SHA256").
	Project("page_count", "PageCount").
	Project("storage_key", "StorageKey").
	Project("status", "Status").
	Project("uploaded_at", "UploadedAt").
	Project("updated_at", "UpdatedAt").
	Project("ingested_at", "IngestedAt")

var defaultSort = query.SortField{
	Field:      "UploadedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for document queries.
// Nil fields are ignored. Status, Utility, and SHA256 use exact matching;
// Filename uses case-insensitive contains matching.
type Filters struct {
	Status   *string `json:"status,omitempty"`
	Utility  *string `json:"utility,omitempty"`
	Filename *string `json:"filename,omitempty"`
	SHA256   *string `json:"sha256,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("Utility", f.Utility).
		WhereContains("Filename", f.Filename).
		WhereEquals("SHA256", f.SHA256)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if u := values.Get("utility"); u != "" {
		f.Utility = &u
	}

	if fn := values.Get("filename"); fn != "" {
		f.Filename = &fn
	}

	if sum := values.Get("sha256"); sum != "" {
		f.SHA256 = &sum
	}

	return f
}

func scanDocument(s repository.Scanner) (Document, error) {
	var d Document
	err := s.Scan(
		&d.ID,
		&d.Utility,
		&d.Filename,
		&d.ContentType,
		&d.SizeBytes,
		&d.SHA256,
		&d.PageCount,
		&d.StorageKey,
		&d.Status,
		&d.UploadedAt,
		&d.UpdatedAt,
		&d.IngestedAt,
	)
	return d, err
}
