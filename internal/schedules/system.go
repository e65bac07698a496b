package schedules

import (
	"context"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/pagination"
)

type System interface {
	Handler() *Handler

	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Schedule], error)
	Find(ctx context.Context, id uuid.UUID) (*Schedule, error)

	// CreateForDetection persists one detection pass: a fresh set of
	// schedules under the next detection run for the document, each
	// with its version-1 evidence text. Calling it again with the same
	// origin message returns the schedules already created for that
	// origin without writing anything.
	CreateForDetection(ctx context.Context, cmd DetectionCommand) ([]Schedule, error)

	// Evidence returns one stored evidence version for a schedule.
	Evidence(ctx context.Context, scheduleID uuid.UUID, version int) (*RateText, error)

	// LatestEvidence returns the newest evidence version for a schedule.
	LatestEvidence(ctx context.Context, scheduleID uuid.UUID) (*RateText, error)

	// InsertExtraction appends an extraction attempt under the next
	// version for its schedule. Versions are assigned here, not by the
	// caller; rows are never updated afterward.
	InsertExtraction(ctx context.Context, cmd ExtractionCommand) (*Extraction, error)

	// ExtractionByOrigin finds the attempt a specific queue delivery
	// already produced. It returns nil with no error when the delivery
	// has not written anything yet; callers use it to make redelivered
	// extract messages observe prior work instead of repeating it.
	ExtractionByOrigin(ctx context.Context, scheduleID, messageID uuid.UUID) (*Extraction, error)

	Extraction(ctx context.Context, scheduleID uuid.UUID, version int) (*Extraction, error)
	Extractions(ctx context.Context, scheduleID uuid.UUID) ([]Extraction, error)

	// Current returns the extraction the schedule's current version
	// points at.
	Current(ctx context.Context, scheduleID uuid.UUID) (*Extraction, error)

	// PromoteCurrent advances the schedule's current pointer to the
	// given version if and only if that version exists, is valid, and
	// is newer than the present pointer. It reports whether the pointer
	// moved; losing the race or pointing backward is a no-op, not an
	// error.
	PromoteCurrent(ctx context.Context, scheduleID uuid.UUID, version int) (bool, error)

	// RecordExport stamps the storage key of the rendered artifacts on
	// the schedule, provided the exported version is still current.
	// ErrStaleExport means promotion moved on while rendering; the
	// newer version's export supersedes this one.
	RecordExport(ctx context.Context, id uuid.UUID, version int, key string) error

	// Reextract dispatches a fresh extract job against the schedule's
	// latest evidence.
	Reextract(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}
