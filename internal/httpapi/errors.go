package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"llavad/internal/manager"
	"llavad/internal/registry"
	"llavad/internal/session"
	"llavad/internal/transfer"
	"llavad/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes. reason is non-empty
// for busy rejections, which are counted per reason.
func statusFor(err error) (status int, reason string) {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode(), ""
	case errors.Is(err, registry.ErrUnknownModel), manager.IsModelNotFound(err):
		return http.StatusNotFound, ""
	case transfer.IsBusy(err):
		return http.StatusConflict, "download_busy"
	case errors.Is(err, transfer.ErrAlreadyPresent):
		return http.StatusConflict, ""
	case errors.Is(err, transfer.ErrNoSource):
		return http.StatusUnprocessableEntity, ""
	case errors.Is(err, registry.ErrInsufficientRAM):
		return http.StatusPreconditionFailed, ""
	case errors.Is(err, session.ErrTurnInFlight):
		return http.StatusConflict, "turn_in_flight"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "reset_pending"
	case errors.Is(err, manager.ErrNoModelSelected):
		return http.StatusConflict, ""
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable, ""
	case manager.IsLoadError(err, 0):
		return http.StatusFailedDependency, ""
	case session.IsCompletionError(err):
		return http.StatusBadGateway, ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ""
	}
	return http.StatusInternalServerError, ""
}

// writeError maps err and writes it, counting busy rejections.
func writeError(w http.ResponseWriter, err error) int {
	status, reason := statusFor(err)
	if reason != "" {
		countRejection(reason)
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Warn().Str("event", "encode_error").Err(err).Msg("http")
	}
}
