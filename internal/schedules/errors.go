package schedules

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound       = errors.New("schedule not found")
	ErrNoEvidence     = errors.New("no evidence recorded for schedule")
	ErrNoCurrent      = errors.New("schedule has no current extraction")
	ErrNoRanges       = errors.New("detection produced no ranges")
	ErrBadOutcome     = errors.New("unknown extraction outcome")
	ErrInvalidID      = errors.New("invalid schedule id")
	ErrInvalidVersion = errors.New("invalid version")
	ErrStaleExport    = errors.New("export superseded by a newer current version")
)

func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoEvidence),
		errors.Is(err, ErrNoCurrent):
		return http.StatusNotFound
	case errors.Is(err, ErrNoRanges),
		errors.Is(err, ErrBadOutcome),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidVersion):
		return http.StatusBadRequest
	case errors.Is(err, ErrStaleExport):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
