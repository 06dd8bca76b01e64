package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrConflict     = "CONFLICT"
	ErrInvalidInput = "INVALID_INPUT"

	// State machine errors
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInvalidState      = "INVALID_STATE" // join request is no longer pending

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN" // User is authenticated but doesn't have the role
	ErrInvalidToken = "INVALID_TOKEN"

	// Actor communication errors
	ErrActorTimeout    = "ACTOR_TIMEOUT"
	ErrMessageRejected = "MESSAGE_REJECTED"

	ErrDatabase = "database_error"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewNotFoundError(what string, id fmt.Stringer) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: what + " not found: " + id.String(),
	}
}

func NewForbiddenError(reason string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "Forbidden: " + reason,
	}
}

func NewConflictError(reason string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: reason,
	}
}

func NewInvalidTransitionError(from, event string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("invalid transition: %s from %s", event, from),
	}
}

func NewInvalidInputError(reason string) *AppError {
	return &AppError{
		Code:    ErrInvalidInput,
		Message: "Invalid input: " + reason,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// IsErrorCode reports whether err, or any error it wraps, is an AppError with the given code.
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// ErrorCode returns the AppError code carried by err, or ErrDatabase for foreign errors.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrDatabase
}

// Helper method to check if an error is related to authentication
func IsAuthError(err error) bool {
	return IsErrorCode(err, ErrUnauthorized) ||
		IsErrorCode(err, ErrForbidden) ||
		IsErrorCode(err, ErrInvalidToken)
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict, ErrInvalidTransition, ErrInvalidState:
		return http.StatusConflict
	case ErrDatabase, ErrActorTimeout, ErrMessageRejected:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
