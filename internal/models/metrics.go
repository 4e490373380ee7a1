package models

import (
	"time"

	"github.com/tender-ingest/internal/types"
)

// JobMetrics is the live telemetry for one running (or just-finished) job.
// It exists from StartTracking until Complete, after which the final copy is
// folded into the job's log metadata.
type JobMetrics struct {
	JobID         string     `json:"jobId"`
	TenantID      string     `json:"tenantId"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	DurationMs    int64      `json:"durationMs,omitempty"`
	PagesScraped  int        `json:"pagesScraped"`
	RecordsFound  int        `json:"recordsFound"`
	ErrorCount    int        `json:"errorCount"`
	RetryCount    int        `json:"retryCount"`
	MemoryBytes   uint64     `json:"memoryBytes"`
	GoroutineSnap int        `json:"goroutines"`
}

// MetricsUpdate carries a partial counter update; nil fields are untouched.
type MetricsUpdate struct {
	PagesScraped *int `json:"pagesScraped,omitempty"`
	RecordsFound *int `json:"recordsFound,omitempty"`
}

// PerformanceAlert is an ephemeral advisory signal. It is broadcast to the
// owning tenant's live connections and never persisted or raised as an error.
type PerformanceAlert struct {
	Kind      types.AlertKind        `json:"kind"`
	Severity  types.AlertSeverity    `json:"severity"`
	TenantID  string                 `json:"tenantId"`
	JobID     string                 `json:"jobId"`
	Message   string                 `json:"message"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SystemSnapshot is a point-in-time view of the orchestrating process.
type SystemSnapshot struct {
	MemoryAllocBytes uint64        `json:"memoryAllocBytes"`
	MemorySysBytes   uint64        `json:"memorySysBytes"`
	NumGC            uint32        `json:"numGc"`
	Goroutines       int           `json:"goroutines"`
	CPUs             int           `json:"cpus"`
	Uptime           time.Duration `json:"uptime"`
	ActiveJobs       int           `json:"activeJobs"`
}
