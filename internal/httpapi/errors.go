package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"genpool/internal/manager"
	"genpool/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case manager.IsNotFound(err):
		return http.StatusNotFound
	case manager.IsBusy(err), manager.IsInvalidState(err):
		return http.StatusConflict
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsShuttingDown(err), manager.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case manager.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// writeTaskError is writeJSONError for a failure that belongs to a task.
func writeTaskError(w http.ResponseWriter, status int, msg, taskID string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status, TaskID: taskID})
}
