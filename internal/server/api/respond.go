// Package api provides the HTTP handlers of the detection dashboard.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/plastisort/internal/app"
	"github.com/ayusman/plastisort/internal/capture"
	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/export"
	"github.com/ayusman/plastisort/internal/history"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeAppError maps a session error to its HTTP status.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, history.ErrNotFound), errors.Is(err, export.ErrNothingToExport):
		return http.StatusNotFound
	case errors.Is(err, app.ErrWebcamRunning),
		errors.Is(err, app.ErrNoImageSelected),
		errors.Is(err, app.ErrNoMoreImages):
		return http.StatusConflict
	case errors.Is(err, app.ErrClearNotConfirmed),
		errors.Is(err, config.ErrThresholdOutOfRange),
		errors.Is(err, config.ErrInvalidThreshold),
		errors.Is(err, capture.ErrNoImages),
		errors.Is(err, capture.ErrUnreadableImage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}
