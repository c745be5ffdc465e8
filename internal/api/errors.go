package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/smartbulb-core/internal/account"
	"github.com/nerrad567/smartbulb-core/internal/control"
	"github.com/nerrad567/smartbulb-core/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeWrongMode    = "wrong_mode"
	ErrCodeNotConnected = "not_connected"
	ErrCodeTimeout      = "timeout"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeDevice       = "device_error"
	ErrCodeBackend      = "backend_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps device, control and account errors to a status.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrInvalidCommand),
		errors.Is(err, account.ErrInvalidRequest),
		errors.Is(err, account.ErrWeakPassword):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, account.ErrUnauthorized),
		errors.Is(err, account.ErrNotSignedIn):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, account.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, device.ErrWrongMode):
		return http.StatusConflict, ErrCodeWrongMode
	case errors.Is(err, device.ErrNotConnected):
		return http.StatusConflict, ErrCodeNotConnected
	case errors.Is(err, device.ErrSuperseded),
		errors.Is(err, device.ErrConnectInProgress),
		errors.Is(err, account.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, device.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, device.ErrUnreachable),
		errors.Is(err, account.ErrUnavailable),
		errors.Is(err, control.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, device.ErrWriteFailed),
		errors.Is(err, device.ErrServiceMissing):
		return http.StatusBadGateway, ErrCodeDevice
	case errors.Is(err, account.ErrBackend):
		return http.StatusBadGateway, ErrCodeBackend
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
