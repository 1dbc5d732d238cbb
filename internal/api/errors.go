package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/device"
	"github.com/smartcat/habitat-core/internal/notify"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// ErrorBody is the payload of the error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope every failed request returns:
// {"error":{"code":"...","message":"..."}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// serviceErrors maps domain sentinels onto HTTP status and code.
var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{alert.ErrRuleNotFound, http.StatusNotFound, ErrCodeNotFound},
	{command.ErrCommandNotFound, http.StatusNotFound, ErrCodeNotFound},
	{notify.ErrTargetNotFound, http.StatusNotFound, ErrCodeNotFound},
	{snapshot.ErrNoSnapshot, http.StatusNotFound, ErrCodeNotFound},

	{device.ErrInvalidDevice, http.StatusBadRequest, ErrCodeValidation},
	{snapshot.ErrInvalidReading, http.StatusBadRequest, ErrCodeValidation},
	{snapshot.ErrInvalidSettings, http.StatusBadRequest, ErrCodeValidation},
	{snapshot.ErrInvalidCalibration, http.StatusBadRequest, ErrCodeValidation},
	{alert.ErrInvalidRule, http.StatusBadRequest, ErrCodeValidation},
	{command.ErrInvalidCommand, http.StatusBadRequest, ErrCodeValidation},
	{command.ErrInvalidStatus, http.StatusBadRequest, ErrCodeValidation},
	{notify.ErrInvalidTarget, http.StatusBadRequest, ErrCodeValidation},

	{device.ErrDeviceExists, http.StatusConflict, ErrCodeConflict},
	{device.ErrDefaultDevice, http.StatusConflict, ErrCodeConflict},

	{notify.ErrPushNotConfigured, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// writeServiceError translates an error returned by a domain service.
// Unrecognised errors are logged and reported as 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID(r.Context()),
		"error", err,
	)
	writeInternalError(w, "internal server error")
}

// decodeJSON reads the request body into v, reporting 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
