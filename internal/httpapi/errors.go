package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"inferd/internal/registry"
	"inferd/internal/router"
	"inferd/internal/scheduler"
	"inferd/pkg/types"
)

// mapServiceError translates the scheduler's error taxonomy to HTTP status
// codes. Every failure carries the backend identity so the UI can present an
// actionable message.
func mapServiceError(err error) (int, string) {
	switch {
	case registry.IsUnknownBackend(err):
		return http.StatusNotFound, err.Error()
	case scheduler.IsResourceExhausted(err):
		return http.StatusTooManyRequests, err.Error()
	case scheduler.IsAdmissionTimeout(err):
		return http.StatusGatewayTimeout, err.Error()
	case scheduler.IsBackendCrashed(err):
		return http.StatusBadGateway, err.Error()
	case scheduler.IsLaunchFailed(err):
		return http.StatusBadGateway, err.Error()
	case scheduler.IsShuttingDown(err):
		return http.StatusServiceUnavailable, err.Error()
	case router.IsBackendUnreachable(err):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, context.Canceled):
		// Client went away; the status is never seen but keeps logs honest.
		return 499, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, backend string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Backend: backend})
}
