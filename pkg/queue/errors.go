package queue

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound indicates the requested message or dead letter does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidConsumer indicates a consumer with missing or invalid policy fields.
	ErrInvalidConsumer = errors.New("invalid consumer configuration")
)

// MapHTTPStatus maps queue errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidConsumer) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
