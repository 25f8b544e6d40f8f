package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrLocked        = fmt.Errorf("room is locked")
	ErrNotFound      = fmt.Errorf("not found")
	ErrUnauthorized  = fmt.Errorf("actor is not allowed to perform this action")
	ErrTransportLost = fmt.Errorf("subscription dropped")
	ErrValidation    = fmt.Errorf("validation failed")

	ErrInvalidToken        = fmt.Errorf("invalid or expired token")
	ErrConfirmationTimeout = fmt.Errorf("no confirmation received in time")
	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrEmptyWords          = fmt.Errorf("no words have been found")
)

// MapToHTTPStatus translates a domain error into the status code returned by the API.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case stderrors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrTransportLost):
		return http.StatusGone
	case stderrors.Is(err, ErrLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus is the client-side inverse of MapToHTTPStatus.
func FromHTTPStatus(status int, message string) error {
	var base error
	switch status {
	case http.StatusBadRequest:
		base = ErrValidation
	case http.StatusUnauthorized:
		base = ErrInvalidToken
	case http.StatusForbidden:
		base = ErrUnauthorized
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusGone:
		base = ErrTransportLost
	case http.StatusLocked:
		base = ErrLocked
	default:
		return fmt.Errorf("unexpected status %d: %s", status, message)
	}
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}
