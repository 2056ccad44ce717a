// Package httputil holds the JSON request and response helpers shared by
// handlers and middleware.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes an error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}}
	if r != nil {
		body.Error.TraceID = logger.TraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteError renders err. Errors that are not ServiceErrors become INTERNAL
// without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("internal error", err)
	}
	status := svcErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteErrorResponse(w, r, status, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// Unauthorized writes a 401 error envelope.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apperrors.Unauthorized(message))
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields and
// oversized bodies.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidInput("body", "request body is required")
		}
		return apperrors.InvalidInput("body", err.Error())
	}
	return nil
}
