package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elfradio/elfradio/internal/auth"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/models"
)

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("resource not found")
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	var tooSoon *models.TooSoonError
	switch {
	case errors.As(err, &tooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrAlreadyRunning),
		errors.Is(err, models.ErrNoActiveTask),
		errors.Is(err, models.ErrNotRunning),
		errors.Is(err, models.ErrTransmitNotAllowed):
		return http.StatusConflict
	case errors.Is(err, models.ErrHardwareBusy):
		return http.StatusLocked
	case errors.Is(err, models.ErrHardwareTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrTaskNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, config.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var tooSoon *models.TooSoonError
	if errors.As(err, &tooSoon) {
		body.RetryAfterMs = tooSoon.RetryAfterMs
	}
	writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
