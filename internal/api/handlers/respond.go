package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/canonkeeper/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps canon service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrCategoryMismatch),
		errors.Is(err, service.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSupersededNotFound):
		writeError(w, http.StatusNotFound, "superseded fact not found")
	case errors.Is(err, service.ErrFactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrIndexingFailure):
		writeError(w, http.StatusServiceUnavailable, "fact could not be indexed, try again")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
