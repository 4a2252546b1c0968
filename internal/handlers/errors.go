package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crucial707/resource-scheduler/internal/recurrence"
	"github.com/crucial707/resource-scheduler/internal/repo"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrMessageInternal is the generic message for 500 responses. Do not expose internal details to clients.
const ErrMessageInternal = "internal server error"

// JSONError sends a JSON error response with a single "error" field.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONValidationError sends a JSON error response with "error" and optional "fields" for field-level details.
// status is typically http.StatusBadRequest (400).
func JSONValidationError(w http.ResponseWriter, message string, fields map[string]string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	out := map[string]interface{}{"error": message}
	if len(fields) > 0 {
		out["fields"] = fields
	}
	json.NewEncoder(w).Encode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// recurrenceMessage is the client-facing text for a recurrence validation error.
func recurrenceMessage(err error) string {
	switch {
	case errors.Is(err, recurrence.ErrInvalidTimezone):
		return "must be an IANA timezone name, e.g. Europe/Berlin"
	case errors.Is(err, recurrence.ErrInvalidTime):
		return "must be HH:MM (24-hour)"
	case errors.Is(err, recurrence.ErrInvalidScheduleType):
		return "must be one of daily, weekdays, weekends"
	}
	return err.Error()
}

// writeStoreError maps repository and recurrence errors to responses and logs anything
// unexpected with the request id.
func writeStoreError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var verr *recurrence.ValidationError
	switch {
	case errors.As(err, &verr):
		JSONValidationError(w, "validation failed", map[string]string{verr.Field: recurrenceMessage(verr.Err)}, http.StatusBadRequest)
	case errors.Is(err, repo.ErrNotFound):
		JSONError(w, "schedule not found", http.StatusNotFound)
	default:
		logger.Error("request failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
	}
}
