package jobs

import (
	"errors"
	"net/http"
)

// Domain errors for job operations.
var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("job state does not permit this transition")
	ErrInvalidStage      = errors.New("invalid stage")
)

// MapHTTPStatus maps job domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidTransition) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidStage) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
