// Package errors defines the structured error type returned by the workflow
// services. Every error carries a stable code, an HTTP status for the API layer
// and a details map with enough context for the caller to act without a second
// query (illegal state pair, failing checks, requested vs available version).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeInvalidInput           ErrorCode = "INVALID_INPUT"
	CodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	CodeNotReady               ErrorCode = "NOT_READY"
	CodeCannotPublish          ErrorCode = "CANNOT_PUBLISH"
	CodeVersionNotFound        ErrorCode = "VERSION_NOT_FOUND"
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	CodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	CodeRateLimited            ErrorCode = "RATE_LIMITED"
	CodeInternal               ErrorCode = "INTERNAL"
)

// ServiceError is the error type surfaced by services and rendered by the API.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns the error with an additional detail entry.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with the given code, message and status.
func New(code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == code
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return New(CodeNotFound, fmt.Sprintf("%s %s not found", resource, id), http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, reason string) *ServiceError {
	return New(CodeInvalidInput, fmt.Sprintf("%s: %s", field, reason), http.StatusBadRequest).
		WithDetails("field", field)
}

// InvalidTransition reports an illegal lifecycle state pair.
func InvalidTransition(from, to string) *ServiceError {
	return New(CodeInvalidTransition, fmt.Sprintf("transition %s -> %s is not allowed", from, to), http.StatusConflict).
		WithDetails("from", from).
		WithDetails("to", to)
}

// NotReady reports that the readiness gate rejected a publish transition.
func NotReady(failedChecks, recommendedActions []string) *ServiceError {
	msg := "session is not ready to publish"
	if len(failedChecks) > 0 {
		msg += ": failing " + strings.Join(failedChecks, ", ")
	}
	return New(CodeNotReady, msg, http.StatusUnprocessableEntity).
		WithDetails("failed_checks", failedChecks).
		WithDetails("recommended_actions", recommendedActions)
}

// CannotPublish reports that publishing rules rejected the session.
func CannotPublish(reason string, violations []string) *ServiceError {
	return New(CodeCannotPublish, reason, http.StatusUnprocessableEntity).
		WithDetails("reason", reason).
		WithDetails("violations", violations)
}

// VersionNotFound reports a restore request for a version outside the ledger.
func VersionNotFound(requested int, available []int) *ServiceError {
	return New(CodeVersionNotFound, fmt.Sprintf("content version %d not found", requested), http.StatusNotFound).
		WithDetails("requested", requested).
		WithDetails("available", available)
}

// ConcurrentModification reports a lost-update race detected by storage. The
// caller may retry once with a fresh read.
func ConcurrentModification(resource, id string) *ServiceError {
	return New(CodeConcurrentModification, fmt.Sprintf("%s %s was modified concurrently", resource, id), http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id).
		WithDetails("retryable", true)
}

// Unauthorized reports a missing or invalid actor identity.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

// RateLimitExceeded reports a throttled request.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	e := New(CodeInternal, message, http.StatusInternalServerError)
	e.Err = err
	return e
}
