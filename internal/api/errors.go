package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"studyroom/internal/domain"
	"studyroom/internal/lock"

	"github.com/rs/zerolog"
)

// statusFor maps a service error onto an HTTP status. Anything unknown is
// an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTooEarly), errors.Is(err, domain.ErrTooLate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrTooEarly):
		return "too_early"
	case errors.Is(err, domain.ErrTooLate):
		return "too_late"
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	default:
		return "internal"
	}
}

// writeServiceError renders err for the caller. Internal errors are logged
// with the request context and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().
			Err(err).
			Str("op", op).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", w.Header().Get(requestIDHeader)).
			Msg("request failed")
		writeJSON(w, status, map[string]string{"error": "internal error", "code": errorCode(err)})
		return
	}
	if status == http.StatusServiceUnavailable {
		logger.Warn().Err(err).Str("op", op).Msg("request timed out waiting for lock")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": errorCode(err)})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
