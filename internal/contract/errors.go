package contract

import (
	"errors"
	"net/http"
)

// Domain errors for contract operations.
var (
	ErrNotFound      = errors.New("contract not found")
	ErrNoActive      = errors.New("no active contract")
	ErrConflict      = errors.New("contract version conflict")
	ErrInvalidSchema = errors.New("contract schema does not compile")
	ErrInvalidName   = errors.New("contract name must not be empty")
)

// MapHTTPStatus maps contract domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoActive) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidSchema) || errors.Is(err, ErrInvalidName) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
