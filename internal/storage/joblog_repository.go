package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// jobRunsSchema is the append-only run log table. MergeTree ordered by
// tenant and time serves the history queries; a TTL keeps a year of runs.
const jobRunsSchema = `
CREATE TABLE IF NOT EXISTS job_runs (
	job_id String,
	tenant_id String,
	user_id String,
	status String,
	pages Int32,
	records_found Int32,
	imported Int32,
	updated Int32,
	skipped Int32,
	error_message String,
	metadata String,
	recorded_at DateTime
) ENGINE = MergeTree()
ORDER BY (tenant_id, recorded_at)
TTL recorded_at + INTERVAL 1 YEAR
`

// JobLogRepository persists job transitions in ClickHouse. Every transition
// is one row; nothing is ever updated in place.
type JobLogRepository struct {
	db *ClickHouseDB
}

// NewJobLogRepository creates a job log repository.
func NewJobLogRepository(db *ClickHouseDB) *JobLogRepository {
	return &JobLogRepository{db: db}
}

// EnsureSchema creates the run log table when missing.
func (r *JobLogRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.Exec(ctx, jobRunsSchema); err != nil {
		return fmt.Errorf("failed to create job_runs table: %w", err)
	}
	return nil
}

// AppendRun writes one transition row.
func (r *JobLogRepository) AppendRun(ctx context.Context, entry *models.JobRunEntry) error {
	query := `
		INSERT INTO job_runs (
			job_id, tenant_id, user_id, status, pages, records_found,
			imported, updated, skipped, error_message, metadata, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		entry.JobID,
		entry.TenantID,
		entry.UserID,
		string(entry.Status),
		int32(entry.Pages),
		int32(entry.RecordsFound),
		int32(entry.Imported),
		int32(entry.Updated),
		int32(entry.Skipped),
		entry.ErrorMessage,
		entry.Metadata,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append job run: %w", err)
	}
	return nil
}

// RecentRuns returns a tenant's latest transitions, newest first.
func (r *JobLogRepository) RecentRuns(ctx context.Context, tenantID string, limit int) ([]*models.JobRunEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT job_id, tenant_id, user_id, status, pages, records_found,
		       imported, updated, skipped, error_message, metadata, recorded_at
		FROM job_runs
		WHERE tenant_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var entries []*models.JobRunEntry
	for rows.Next() {
		var entry models.JobRunEntry
		var status string
		var pages, found, imported, updated, skipped int32
		var recordedAt time.Time

		err := rows.Scan(
			&entry.JobID, &entry.TenantID, &entry.UserID, &status,
			&pages, &found, &imported, &updated, &skipped,
			&entry.ErrorMessage, &entry.Metadata, &recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}

		entry.Status = types.JobStatus(status)
		entry.Pages = int(pages)
		entry.RecordsFound = int(found)
		entry.Imported = int(imported)
		entry.Updated = int(updated)
		entry.Skipped = int(skipped)
		entry.RecordedAt = recordedAt
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// RunStats aggregates run outcomes for a tenant over a time window.
func (r *JobLogRepository) RunStats(ctx context.Context, tenantID string, since time.Time) (map[string]uint64, error) {
	query := `
		SELECT status, COUNT(*) AS runs
		FROM job_runs
		WHERE tenant_id = ? AND recorded_at >= ?
		GROUP BY status
	`

	rows, err := r.db.Conn().Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]uint64)
	for rows.Next() {
		var status string
		var runs uint64
		if err := rows.Scan(&status, &runs); err != nil {
			return nil, fmt.Errorf("failed to scan run stats: %w", err)
		}
		stats[status] = runs
	}
	return stats, rows.Err()
}
