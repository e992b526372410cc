package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/mixaill76/token_meter/internal/pricing"
	"github.com/mixaill76/token_meter/internal/tokencount"
)

// APIErrorResponse represents an OpenAI-compatible error response.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError represents the error object inside an OpenAI-compatible error response.
type APIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// errorTypeForStatus maps HTTP status codes to OpenAI error type strings.
func errorTypeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusMethodNotAllowed:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusPaymentRequired:
		return "insufficient_quota"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if statusCode >= 500 {
			return "server_error"
		}
		return "invalid_request_error"
	}
}

// WriteJSONError writes an OpenAI-compatible JSON error response.
func WriteJSONError(w http.ResponseWriter, statusCode int, message, errorType string, param, code *string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := APIErrorResponse{
		Error: APIError{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError writes an error with the type derived from the status
func writeError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSONError(w, statusCode, message, errorTypeForStatus(statusCode), nil, nil)
}

// writeParamError reports an invalid or missing request field
func writeParamError(w http.ResponseWriter, param, message string) {
	WriteJSONError(w, http.StatusBadRequest, message, errorTypeForStatus(http.StatusBadRequest), &param, nil)
}

// statusForError maps package sentinel errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, pricing.ErrUnknownTier), errors.Is(err, tokencount.ErrUnknownCounter):
		return http.StatusNotFound
	case errors.Is(err, metering.ErrInvalidDivisor),
		errors.Is(err, metering.ErrNegativeTokens),
		errors.Is(err, metering.ErrInvalidGenerationCap):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrQueueFull),
		errors.Is(err, ledger.ErrClosed),
		errors.Is(err, ledger.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status from statusForError
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

// writeJSON writes v as a JSON body
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
