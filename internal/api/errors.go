package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/dispatch"
	"github.com/nerrad567/pip-core/internal/firmware"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotOwner           = "not_owner"
	ErrCodeControlUnavailable = "control_unavailable"
	ErrCodeDeviceUnreachable  = "device_unreachable"
	ErrCodeFirmwareMissing    = "firmware_unavailable"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
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

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps session and dispatch errors to responses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrSerialConflict):
		writeError(w, http.StatusConflict, ErrCodeControlUnavailable,
			"device is being controlled over a serial connection")
	case errors.Is(err, dispatch.ErrNoActiveConnection):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable,
			"device is not connected")
	case errors.Is(err, device.ErrSendFailed), errors.Is(err, device.ErrConnectionClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable,
			"device did not accept the frame")
	case errors.Is(err, device.ErrSessionNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrNotOwner):
		writeError(w, http.StatusForbidden, ErrCodeNotOwner, "you do not control this device")
	case errors.Is(err, firmware.ErrNoFirmware), errors.Is(err, firmware.ErrNoRelease):
		writeError(w, http.StatusServiceUnavailable, ErrCodeFirmwareMissing, "no firmware release available")
	default:
		writeInternalError(w, "internal server error")
	}
}
