package app

import (
	"errors"
	"fmt"
	"net/http"

	"retroloop/api/internal/auth"
	"retroloop/api/internal/board"
	"retroloop/api/internal/session"
	"retroloop/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message)
}

func errConflict() *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", "Board changed concurrently, resync and retry")
}

func errUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "UNAVAILABLE", message)
}

func errExternal(message string) *DomainError {
	return domainError(http.StatusBadGateway, "EXTERNAL_SERVICE_FAILURE", message)
}

// mapError folds sentinels from the lower layers into the REST error
// contract.
func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, board.ErrPostNotFound), errors.Is(err, board.ErrColumnNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, board.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Board changed concurrently"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
	}
}

// wsCode maps an error onto the persistent-channel error vocabulary.
// Failures are reported to the originating channel only.
func wsCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case "FORBIDDEN":
			return "Forbidden"
		case "NOT_FOUND":
			return "NotFound"
		case "CONFLICT":
			return "Conflict"
		}
		return "ValidationError"
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, board.ErrPostNotFound), errors.Is(err, board.ErrColumnNotFound):
		return "NotFound"
	case errors.Is(err, store.ErrConflict):
		return "Conflict"
	default:
		return "ValidationError"
	}
}
