// Package apperr defines the structured error type returned by services and
// rendered by HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDatabase      Code = "DATABASE_ERROR"
)

// AppError is the unified application error.
type AppError struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Response is the JSON body written for an AppError.
type Response struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToResponse converts the error into its wire form. Cause is never exposed.
func (e *AppError) ToResponse() Response {
	return Response{Code: e.Code, Message: e.Message, Details: e.Details}
}

// As reports whether err carries an *AppError and returns it.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Validation is returned when a request shape fails validation.
func Validation(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message, HTTPStatus: http.StatusBadRequest}
}

// InvalidInput reports a single bad field.
func InvalidInput(field, reason string) *AppError {
	e := &AppError{
		Code:       CodeInvalidInput,
		Message:    fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest,
	}
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

func NotFound(resource, id string) *AppError {
	e := &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"resource": resource},
	}
	if id != "" {
		e.Details["id"] = id
	}
	return e
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:       CodeAlreadyExists,
		Message:    fmt.Sprintf("A %s with these details already exists.", resource),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"resource": resource},
	}
}

func Unauthorized(reason string) *AppError {
	if reason == "" {
		reason = "Authentication required."
	}
	return &AppError{Code: CodeUnauthorized, Message: reason, HTTPStatus: http.StatusUnauthorized}
}

func Forbidden(reason string) *AppError {
	if reason == "" {
		reason = "You don't have permission to perform this action."
	}
	return &AppError{Code: CodeForbidden, Message: reason, HTTPStatus: http.StatusForbidden}
}

func Internal(cause error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func Database(cause error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    "A database error occurred.",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}
