// Package orchestrator drives the scrape-transform-store pipeline. One job is
// one execution: it moves through queued, running and exactly one terminal
// state, never backwards.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tender-ingest/internal/config"
	pipeerrors "github.com/tender-ingest/internal/errors"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/retry"
	"github.com/tender-ingest/internal/scraper"
	"github.com/tender-ingest/internal/transform"
	"github.com/tender-ingest/internal/types"
)

// ProcessRunner runs one external scraper process to completion.
type ProcessRunner interface {
	Run(ctx context.Context, opts models.JobOptions, onProgress scraper.ProgressFunc) (*scraper.RunOutput, error)
}

// BatchTransformer reconciles one scraper artifact into storage.
type BatchTransformer interface {
	TransformBatch(ctx context.Context, path, tenantID string, portal types.SourcePortal) (*transform.BatchResult, error)
}

// MetricsTracker is the slice of the metrics collector the orchestrator uses.
type MetricsTracker interface {
	StartTracking(jobID, tenantID string) *models.JobMetrics
	Update(jobID string, update models.MetricsUpdate)
	IncrementErrors(jobID string)
	IncrementRetries(jobID string)
	Complete(jobID string, result *models.JobResult) *models.JobMetrics
}

// Broadcaster pushes progress events to a tenant's live connections.
// Implementations must not block.
type Broadcaster interface {
	PublishProgress(event *models.ProgressEvent)
}

// NoopBroadcaster discards events.
type NoopBroadcaster struct{}

func (NoopBroadcaster) PublishProgress(*models.ProgressEvent) {}

// RunLogWriter appends job transitions to the durable run log. Failures are
// treated as infrastructure noise by the orchestrator, never as job errors.
type RunLogWriter interface {
	AppendRun(ctx context.Context, entry *models.JobRunEntry) error
}

// NoopRunLog discards run log entries.
type NoopRunLog struct{}

func (NoopRunLog) AppendRun(context.Context, *models.JobRunEntry) error { return nil }

// Orchestrator owns job lifecycles. Execution is asynchronous: Start returns
// a job id immediately and the pipeline runs on its own goroutine.
type Orchestrator struct {
	store       *JobStore
	runner      ProcessRunner
	transformer BatchTransformer
	metrics     MetricsTracker
	broadcaster Broadcaster
	runLog      RunLogWriter
	retryCfg    *retry.Config
	defaults    config.ScraperConfig
	logger      *logging.Logger
	now         func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithBroadcaster wires a live progress channel.
func WithBroadcaster(b Broadcaster) Option {
	return func(o *Orchestrator) { o.broadcaster = b }
}

// WithRunLog wires the durable run log.
func WithRunLog(w RunLogWriter) Option {
	return func(o *Orchestrator) { o.runLog = w }
}

// WithClock pins the orchestrator's clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator around an injected job store.
func New(
	store *JobStore,
	runner ProcessRunner,
	transformer BatchTransformer,
	metrics MetricsTracker,
	retryCfg *retry.Config,
	defaults config.ScraperConfig,
	logger *logging.Logger,
	opts ...Option,
) *Orchestrator {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	o := &Orchestrator{
		store:       store,
		runner:      runner,
		transformer: transformer,
		metrics:     metrics,
		broadcaster: NoopBroadcaster{},
		runLog:      NoopRunLog{},
		retryCfg:    retryCfg,
		defaults:    defaults,
		logger:      logger,
		now:         time.Now,
		cancels:     make(map[string]context.CancelFunc),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartSweeper launches the retention sweep evicting terminal jobs older
// than the retention window.
func (o *Orchestrator) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-ticker.C:
				evicted := o.store.EvictTerminalBefore(o.now().Add(-retention))
				if len(evicted) > 0 {
					o.logger.WithFields(map[string]interface{}{
						"evicted": len(evicted),
					}).Info("Evicted expired jobs from the store")
				}
			}
		}
	}()
}

// Stop terminates background work and waits for running jobs to observe
// their cancelled contexts.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
}

// Start queues a new job and begins executing it asynchronously. Returns the
// job id immediately.
func (o *Orchestrator) Start(ctx context.Context, tenantID, userID string, opts models.JobOptions) (string, error) {
	if tenantID == "" {
		return "", pipeerrors.NewInvalidParameterError("tenantId", "must not be empty")
	}
	if opts.Portal == "" {
		opts.Portal = types.PortalZakupSK
	}
	if opts.Workers <= 0 {
		opts.Workers = o.defaults.DefaultWorkers
	}

	job := &models.Job{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		Status:    types.JobStatusQueued,
		Options:   opts,
		CreatedAt: o.now(),
	}
	o.store.Put(job)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	o.logger.WithJob(job.ID, tenantID).WithFields(map[string]interface{}{
		"portal":  string(opts.Portal),
		"workers": opts.Workers,
	}).Info("Job queued")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.releaseCancel(job.ID)
		o.execute(runCtx, job.ID)
	}()

	return job.ID, nil
}

// GetStatus returns the current state of a job.
func (o *Orchestrator) GetStatus(jobID string) (*models.Job, error) {
	job := o.store.Get(jobID)
	if job == nil {
		return nil, pipeerrors.NewNotFoundError("job", jobID)
	}
	return job, nil
}

// List returns a tenant's jobs, newest first.
func (o *Orchestrator) List(tenantID string) []*models.Job {
	return o.store.List(tenantID)
}

// Cancel requests cooperative cancellation of a queued or running job.
// Returns false when the job is unknown or already terminal. The external
// process is not killed mid-flight; the job stops at the next checkpoint.
func (o *Orchestrator) Cancel(jobID string) bool {
	job := o.store.Get(jobID)
	if job == nil || job.Status.IsTerminal() {
		return false
	}

	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if !ok {
		return false
	}

	o.logger.WithJob(jobID, job.TenantID).Info("Job cancellation requested")
	cancel()
	return true
}

func (o *Orchestrator) releaseCancel(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}

// execute runs one job to its terminal state.
func (o *Orchestrator) execute(ctx context.Context, jobID string) {
	job := o.store.Get(jobID)
	if job == nil {
		return
	}

	log := o.logger.WithJob(jobID, job.TenantID)
	started := o.now()

	o.store.Mutate(jobID, func(j *models.Job) {
		j.Status = types.JobStatusRunning
		j.StartedAt = &started
	})
	o.metrics.StartTracking(jobID, job.TenantID)
	o.appendRunLog(ctx, jobID, types.JobStatusRunning, nil, "", nil)
	o.broadcaster.PublishProgress(&models.ProgressEvent{
		Status:   types.ProgressRunning,
		JobID:    jobID,
		TenantID: job.TenantID,
		Message:  "scraper starting",
	})

	var output *scraper.RunOutput

	result := retry.WithExponentialBackoff(ctx, o.retryCfg, func(ctx context.Context, attempt int) error {
		out, err := o.runner.Run(ctx, job.Options, func(pages, records int) {
			o.metrics.Update(jobID, models.MetricsUpdate{
				PagesScraped: &pages,
				RecordsFound: &records,
			})
		})
		if err != nil {
			return err
		}
		output = out
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		o.metrics.IncrementErrors(jobID)
		o.metrics.IncrementRetries(jobID)
		o.broadcaster.PublishProgress(&models.ProgressEvent{
			Status:   types.ProgressRunning,
			JobID:    jobID,
			TenantID: job.TenantID,
			Attempt:  attempt,
			Message:  fmt.Sprintf("attempt %d failed, retrying in %s", attempt, delay),
		})
	})

	if ctx.Err() != nil {
		o.finalizeCancelled(jobID, job.TenantID, started)
		return
	}

	if !result.Success {
		o.metrics.IncrementErrors(jobID)
		err := fmt.Errorf("scraper failed after %d attempts: %w", result.Attempts, result.LastError)
		o.finalizeFailed(ctx, jobID, job.TenantID, started, err)
		return
	}

	batch, err := o.transformer.TransformBatch(ctx, output.ArtifactPath, job.TenantID, job.Options.Portal)
	if err != nil {
		if ctx.Err() != nil {
			o.finalizeCancelled(jobID, job.TenantID, started)
			return
		}
		o.metrics.IncrementErrors(jobID)
		o.finalizeFailed(ctx, jobID, job.TenantID, started, err)
		return
	}

	ended := o.now()
	jobResult := &models.JobResult{
		PagesProcessed:  output.TotalPages,
		RecordsFound:    output.TotalRecords,
		RecordsImported: batch.Imported,
		RecordsUpdated:  batch.Updated,
		RecordsSkipped:  batch.Skipped,
		Duration:        ended.Sub(started),
	}

	o.store.Mutate(jobID, func(j *models.Job) {
		j.Status = types.JobStatusCompleted
		j.Result = jobResult
		j.EndedAt = &ended
	})

	finalMetrics := o.metrics.Complete(jobID, jobResult)
	o.appendRunLog(ctx, jobID, types.JobStatusCompleted, jobResult, "", finalMetrics)
	o.broadcaster.PublishProgress(&models.ProgressEvent{
		Status:   types.ProgressCompleted,
		JobID:    jobID,
		TenantID: job.TenantID,
		Result:   jobResult,
		Metrics:  finalMetrics,
	})

	log.WithFields(map[string]interface{}{
		"pages":    jobResult.PagesProcessed,
		"found":    jobResult.RecordsFound,
		"imported": jobResult.RecordsImported,
		"updated":  jobResult.RecordsUpdated,
		"skipped":  jobResult.RecordsSkipped,
		"duration": jobResult.Duration.String(),
	}).Info("Job completed")
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, jobID, tenantID string, started time.Time, err error) {
	ended := o.now()
	msg := err.Error()
	perr := pipeerrors.Categorize(err)

	o.store.Mutate(jobID, func(j *models.Job) {
		j.Status = types.JobStatusFailed
		j.Error = &msg
		j.ErrorInfo = &types.ServiceError{
			Code:    perr.Code,
			Message: perr.Message,
			Details: map[string]interface{}{"category": string(perr.Category)},
		}
		j.EndedAt = &ended
	})

	finalMetrics := o.metrics.Complete(jobID, nil)
	o.appendRunLog(ctx, jobID, types.JobStatusFailed, nil, msg, finalMetrics)
	o.broadcaster.PublishProgress(&models.ProgressEvent{
		Status:   types.ProgressFailed,
		JobID:    jobID,
		TenantID: tenantID,
		Message:  msg,
		Metrics:  finalMetrics,
	})

	o.logger.WithJob(jobID, tenantID).WithError(err).Error("Job failed")
}

func (o *Orchestrator) finalizeCancelled(jobID, tenantID string, started time.Time) {
	ended := o.now()

	o.store.Mutate(jobID, func(j *models.Job) {
		j.Status = types.JobStatusCancelled
		j.EndedAt = &ended
	})

	finalMetrics := o.metrics.Complete(jobID, nil)
	o.appendRunLog(context.Background(), jobID, types.JobStatusCancelled, nil, "", finalMetrics)
	o.broadcaster.PublishProgress(&models.ProgressEvent{
		Status:   types.ProgressCancelled,
		JobID:    jobID,
		TenantID: tenantID,
		Metrics:  finalMetrics,
	})

	o.logger.WithJob(jobID, tenantID).Info("Job cancelled")
}

// appendRunLog writes one transition to the durable log. Log failures never
// affect the job.
func (o *Orchestrator) appendRunLog(ctx context.Context, jobID string, status types.JobStatus, result *models.JobResult, errMsg string, metrics *models.JobMetrics) {
	job := o.store.Get(jobID)
	if job == nil {
		return
	}

	entry := &models.JobRunEntry{
		JobID:        jobID,
		TenantID:     job.TenantID,
		UserID:       job.UserID,
		Status:       status,
		ErrorMessage: errMsg,
		RecordedAt:   o.now(),
	}
	if result != nil {
		entry.Pages = result.PagesProcessed
		entry.RecordsFound = result.RecordsFound
		entry.Imported = result.RecordsImported
		entry.Updated = result.RecordsUpdated
		entry.Skipped = result.RecordsSkipped
	}
	if metrics != nil {
		if raw, err := json.Marshal(metrics); err == nil {
			entry.Metadata = string(raw)
		}
	}

	if err := o.runLog.AppendRun(ctx, entry); err != nil {
		o.logger.WithJob(jobID, job.TenantID).WithError(
			pipeerrors.NewInfrastructureError("append job run log", err),
		).Warn("Run log write failed, continuing")
	}
}
