package api

import (
	"encoding/json"
	"net/http"

	pipeerrors "github.com/tender-ingest/internal/errors"
	"github.com/tender-ingest/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondServiceError maps a pipeline error onto an HTTP response.
func respondServiceError(w http.ResponseWriter, err error) {
	perr := pipeerrors.Categorize(err)

	status := pipeerrors.GetHTTPStatusCode(perr)
	code := perr.Code
	message := perr.Message
	if status >= http.StatusInternalServerError {
		code = ErrCodeInternalError
		message = "An internal error occurred"
	}

	respondError(w, status, code, message, perr.Details)
}
