// Package errors provides the categorized error taxonomy for the ingestion
// pipeline. The category decides how a failure propagates: transient errors
// are retried, fatal errors fail the job immediately, validation errors are
// counted per record, and infrastructure errors are logged and swallowed.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tender-ingest/internal/types"
)

// Category represents the handling class of an error
type Category string

const (
	// CategoryTransient marks failures worth retrying (process spawn/exit)
	CategoryTransient Category = "transient"
	// CategoryFatal marks failures that must not be retried
	CategoryFatal Category = "fatal"
	// CategoryValidation marks malformed per-record input
	CategoryValidation Category = "validation"
	// CategoryInfrastructure marks observability/persistence failures that
	// must never take down the pipeline
	CategoryInfrastructure Category = "infrastructure"
	// CategoryNotFound marks lookups for unknown jobs/schedules
	CategoryNotFound Category = "not_found"
	// CategoryConflict marks operations invalid in the current state
	CategoryConflict Category = "conflict"
	// CategoryUserInput marks malformed API input
	CategoryUserInput Category = "user_input"
)

// PipelineError represents an error with a handling category and HTTP status
type PipelineError struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire-level ServiceError
func (e *PipelineError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewProcessError creates a transient scraper-process error
func NewProcessError(message string, cause error) *PipelineError {
	return &PipelineError{
		Category:   CategoryTransient,
		StatusCode: http.StatusBadGateway,
		Code:       "SCRAPER_PROCESS_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewMissingArtifactError creates the fatal error for a scraper run that
// exited cleanly without producing an output file. This indicates a logic
// bug, not a transient fault, so it is never retried.
func NewMissingArtifactError(path string) *PipelineError {
	return &PipelineError{
		Category:   CategoryFatal,
		StatusCode: http.StatusInternalServerError,
		Code:       "MISSING_OUTPUT_ARTIFACT",
		Message:    "scraper exited successfully but produced no output artifact",
		Details: map[string]interface{}{
			"expectedPath": path,
		},
	}
}

// NewFatalError creates a generic non-retryable error
func NewFatalError(message string, cause error) *PipelineError {
	return &PipelineError{
		Category:   CategoryFatal,
		StatusCode: http.StatusInternalServerError,
		Code:       "FATAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewRecordValidationError creates a per-record validation error
func NewRecordValidationError(externalID string, reason string) *PipelineError {
	return &PipelineError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INVALID_RECORD",
		Message:    fmt.Sprintf("invalid scraped record %q: %s", externalID, reason),
		Details: map[string]interface{}{
			"externalId": externalID,
			"reason":     reason,
		},
	}
}

// NewInfrastructureError creates a log/metrics persistence error. Callers
// log these and continue.
func NewInfrastructureError(operation string, cause error) *PipelineError {
	return &PipelineError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusInternalServerError,
		Code:       "INFRASTRUCTURE_ERROR",
		Message:    fmt.Sprintf("infrastructure failure during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *PipelineError {
	return &PipelineError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInvalidStateError creates a conflict error for operations that are
// invalid in the target's current state (e.g. cancelling a terminal job).
func NewInvalidStateError(resource string, state string) *PipelineError {
	return &PipelineError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "INVALID_STATE",
		Message:    fmt.Sprintf("%s is %s", resource, state),
		Details: map[string]interface{}{
			"resource": resource,
			"state":    state,
		},
	}
}

// NewInvalidParameterError creates an invalid API parameter error
func NewInvalidParameterError(param string, reason string) *PipelineError {
	return &PipelineError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// Categorize wraps an arbitrary error into a PipelineError. Unknown errors
// default to transient so the retry policy gets a chance at them.
func Categorize(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return NewProcessError("unexpected error", err)
}

// IsTransient reports whether the retry policy should re-attempt after err.
func IsTransient(err error) bool {
	perr := Categorize(err)
	return perr != nil && perr.Category == CategoryTransient
}

// IsFatal reports whether err must bypass the retry policy entirely.
func IsFatal(err error) bool {
	perr := Categorize(err)
	return perr != nil && perr.Category == CategoryFatal
}

// IsInfrastructure reports whether err should be logged and swallowed.
func IsInfrastructure(err error) bool {
	perr := Categorize(err)
	return perr != nil && perr.Category == CategoryInfrastructure
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if perr := Categorize(err); perr != nil {
		return perr.StatusCode
	}
	return http.StatusInternalServerError
}
