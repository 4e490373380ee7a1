package models

import (
	"time"

	"github.com/tender-ingest/internal/types"
)

// JobOptions holds the configuration for one ingestion run.
// A schedule stores these as its template; a direct trigger supplies them inline.
type JobOptions struct {
	Portal   types.SourcePortal `json:"portal"`
	Headless bool               `json:"headless"`
	Workers  int                `json:"workers"`
	MinValue float64            `json:"minValue,omitempty"`
	// MaxDaysLeft filters out tenders closing further out than this many days.
	// nil disables the filter.
	MaxDaysLeft *int `json:"maxDaysLeft,omitempty"`
}

// JobResult holds the aggregate outcome of a terminal job.
type JobResult struct {
	PagesProcessed  int           `json:"pagesProcessed"`
	RecordsFound    int           `json:"recordsFound"`
	RecordsImported int           `json:"recordsImported"`
	RecordsUpdated  int           `json:"recordsUpdated"`
	RecordsSkipped  int           `json:"recordsSkipped"`
	Duration        time.Duration `json:"duration"`
}

// Job represents one execution of the scrape-transform-store pipeline.
// Mutated only by the orchestrator; read by status queries.
type Job struct {
	ID        string              `json:"id"`
	TenantID  string              `json:"tenantId"`
	UserID    string              `json:"userId"`
	Status    types.JobStatus     `json:"status"`
	Options   JobOptions          `json:"options"`
	Result    *JobResult          `json:"result,omitempty"`
	Error     *string             `json:"error,omitempty"`
	ErrorInfo *types.ServiceError `json:"errorInfo,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	StartedAt *time.Time          `json:"startedAt,omitempty"`
	EndedAt   *time.Time          `json:"endedAt,omitempty"`
}

// ProgressEvent is pushed to a tenant's live connections on every job transition.
type ProgressEvent struct {
	Status   types.ProgressStatus `json:"status"`
	JobID    string               `json:"jobId"`
	TenantID string               `json:"tenantId"`
	Message  string               `json:"message,omitempty"`
	Attempt  int                  `json:"attempt,omitempty"`
	Result   *JobResult           `json:"result,omitempty"`
	Metrics  *JobMetrics          `json:"metrics,omitempty"`
}
