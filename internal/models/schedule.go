package models

import "time"

// ScheduleResult is the summary kept from a schedule's most recent run.
type ScheduleResult struct {
	JobID      string     `json:"jobId"`
	Status     string     `json:"status"`
	Result     *JobResult `json:"result,omitempty"`
	Error      *string    `json:"error,omitempty"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// ScheduledJob is a recurring ingestion definition. It is persisted as an
// opaque JSON blob in the config store keyed by schedule id; the live timer
// handle never leaves the scheduler.
type ScheduledJob struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	UserID     string          `json:"userId"`
	Interval   time.Duration   `json:"interval"`
	NextRun    time.Time       `json:"nextRun"`
	LastRun    *time.Time      `json:"lastRun,omitempty"`
	LastResult *ScheduleResult `json:"lastResult,omitempty"`
	Active     bool            `json:"active"`
	Options    JobOptions      `json:"options"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
