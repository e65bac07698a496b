// Package documents implements the tariff document domain. It provides
// types, data access, and business logic for PDF upload, content-hash
// identity, per-page text storage, and blob storage integration.
package documents

import (
	"time"

	"github.com/google/uuid"
)

// Document lifecycle states.
const (
	StatusUploaded = "uploaded"
	StatusIngested = "ingested"
)

// Document represents an uploaded tariff PDF. SHA256 is the content
// digest in "sha256:<hex>" form and is unique across documents; a second
// upload of identical bytes is rejected rather than re-registered.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	Utility     string     `json:"utility"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	SHA256      string     `json:"sha256"`
	PageCount   *int       `json:"page_count"`
	StorageKey  string     `json:"storage_key"`
	Status      string     `json:"status"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	IngestedAt  *time.Time `json:"ingested_at,omitempty"`
}

// CreateCommand carries the data needed to upload and register a new
// document. Data holds the raw PDF bytes. PageCount is optional and may
// be extracted by the caller via pdfcpu; nil values are stored as NULL
// until ingest confirms the count.
type CreateCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	Utility     string
	PageCount   *int
}
