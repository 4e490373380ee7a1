// Package metrics tracks live per-job telemetry and raises advisory
// performance alerts. Alerts are ephemeral signals: they are handed to an
// AlertSink and never fail or abort a job.
package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/tender-ingest/internal/config"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// AlertSink receives performance alerts. Implementations must not block;
// a slow consumer drops alerts rather than stalling the collector.
type AlertSink interface {
	PublishAlert(alert *models.PerformanceAlert)
}

// NoopSink discards alerts. Used when no live channel is wired up.
type NoopSink struct{}

func (NoopSink) PublishAlert(*models.PerformanceAlert) {}

// Collector keeps an in-memory map of metrics for jobs currently tracked.
// Entries live from StartTracking until Complete; a periodic cleanup evicts
// entries whose job leaked without completing.
type Collector struct {
	mu      sync.RWMutex
	jobs    map[string]*models.JobMetrics
	alerted map[string]map[string]bool // jobID -> "kind/severity" already raised

	cfg       config.MetricsConfig
	sink      AlertSink
	logger    *logging.Logger
	now       func() time.Time
	startedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures optional Collector behaviour.
type Option func(*Collector)

// WithClock pins the collector's clock, for deterministic threshold tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector. Pass NoopSink{} when no alert channel
// exists.
func NewCollector(cfg config.MetricsConfig, sink AlertSink, logger *logging.Logger, opts ...Option) *Collector {
	c := &Collector{
		jobs:    make(map[string]*models.JobMetrics),
		alerted: make(map[string]map[string]bool),
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.now()
	return c
}

// Start launches the watchdog and cleanup loops. Stop terminates them.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.watchdogLoop(ctx)
	go c.cleanupLoop(ctx)
	c.logger.WithFields(map[string]interface{}{
		"watchdogInterval": c.cfg.WatchdogInterval.String(),
		"cleanupInterval":  c.cfg.CleanupInterval.String(),
	}).Info("Metrics collector started")
}

// Stop terminates the background loops and waits for them.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// StartTracking registers a new job. Calling it twice for the same job resets
// the entry.
func (c *Collector) StartTracking(jobID, tenantID string) *models.JobMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &models.JobMetrics{
		JobID:     jobID,
		TenantID:  tenantID,
		StartTime: c.now(),
	}
	c.jobs[jobID] = m
	c.alerted[jobID] = make(map[string]bool)
	return copyMetrics(m)
}

// Update applies a partial counter update and re-evaluates thresholds.
// Unknown job ids are ignored.
func (c *Collector) Update(jobID string, update models.MetricsUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.jobs[jobID]
	if !ok {
		return
	}
	if update.PagesScraped != nil {
		m.PagesScraped = *update.PagesScraped
	}
	if update.RecordsFound != nil {
		m.RecordsFound = *update.RecordsFound
	}
	c.evaluateLocked(m, false)
}

// IncrementErrors bumps the error counter and re-evaluates thresholds.
func (c *Collector) IncrementErrors(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.jobs[jobID]
	if !ok {
		return
	}
	m.ErrorCount++
	c.evaluateLocked(m, false)
}

// IncrementRetries bumps the retry counter.
func (c *Collector) IncrementRetries(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.jobs[jobID]; ok {
		m.RetryCount++
	}
}

// Complete finalizes a job's metrics, removes the live entry and returns the
// final copy. Returns nil for unknown job ids. The final scrape counts from
// the job result override whatever progress parsing accumulated.
func (c *Collector) Complete(jobID string, result *models.JobResult) *models.JobMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.jobs[jobID]
	if !ok {
		return nil
	}

	end := c.now()
	m.EndTime = &end
	m.DurationMs = end.Sub(m.StartTime).Milliseconds()
	if result != nil {
		if result.PagesProcessed > 0 {
			m.PagesScraped = result.PagesProcessed
		}
		if result.RecordsFound > 0 {
			m.RecordsFound = result.RecordsFound
		}
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.MemoryBytes = stats.Alloc
	m.GoroutineSnap = runtime.NumGoroutine()

	// The final counts can shift the error rate, so thresholds get one last
	// pass before the entry goes away.
	c.evaluateLocked(m, false)

	delete(c.jobs, jobID)
	delete(c.alerted, jobID)
	return copyMetrics(m)
}

// Active returns a snapshot of all live entries.
func (c *Collector) Active() []*models.JobMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.JobMetrics, 0, len(c.jobs))
	for _, m := range c.jobs {
		out = append(out, copyMetrics(m))
	}
	return out
}

// Get returns the live entry for one job, or nil.
func (c *Collector) Get(jobID string) *models.JobMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.jobs[jobID]; ok {
		return copyMetrics(m)
	}
	return nil
}

// SystemSnapshot reports process-wide resource usage.
func (c *Collector) SystemSnapshot() models.SystemSnapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	c.mu.RLock()
	active := len(c.jobs)
	started := c.startedAt
	c.mu.RUnlock()

	return models.SystemSnapshot{
		MemoryAllocBytes: stats.Alloc,
		MemorySysBytes:   stats.Sys,
		NumGC:            stats.NumGC,
		Goroutines:       runtime.NumGoroutine(),
		CPUs:             runtime.NumCPU(),
		Uptime:           c.now().Sub(started),
		ActiveJobs:       active,
	}
}

func (c *Collector) watchdogLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, m := range c.jobs {
				c.evaluateLocked(m, true)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Collector) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictStale()
		}
	}
}

// evictStale drops live entries older than the stale age. A job that old
// never called Complete, which means its owner leaked the entry.
func (c *Collector) evictStale() {
	cutoff := c.now().Add(-c.cfg.StaleMetricsAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	for jobID, m := range c.jobs {
		if m.StartTime.Before(cutoff) {
			c.logger.WithFields(map[string]interface{}{
				"jobId":     jobID,
				"startTime": m.StartTime.Format(time.RFC3339),
			}).Warn("Evicting stale job metrics entry")
			delete(c.jobs, jobID)
			delete(c.alerted, jobID)
		}
	}
}

// evaluateLocked checks one job against the threshold table and raises
// alerts. The stuck-job check only runs from the watchdog; the remaining
// checks run on every pass. Caller holds c.mu.
func (c *Collector) evaluateLocked(m *models.JobMetrics, fromWatchdog bool) {
	elapsed := c.now().Sub(m.StartTime)

	if fromWatchdog && elapsed > 2*c.cfg.MaxRuntimeThreshold {
		c.raiseLocked(m, types.AlertStuckJob, types.SeverityCritical,
			fmt.Sprintf("job has been running for %s, more than twice the %s ceiling", elapsed.Round(time.Second), c.cfg.MaxRuntimeThreshold))
	}

	if elapsed > c.cfg.MaxRuntimeThreshold {
		c.raiseLocked(m, types.AlertSlowScraping, types.SeverityHigh,
			fmt.Sprintf("job runtime %s exceeds the %s ceiling", elapsed.Round(time.Second), c.cfg.MaxRuntimeThreshold))
	} else if m.PagesScraped > 0 && elapsed/time.Duration(m.PagesScraped) > c.cfg.SlowPageThreshold {
		perPage := elapsed / time.Duration(m.PagesScraped)
		c.raiseLocked(m, types.AlertSlowScraping, types.SeverityMedium,
			fmt.Sprintf("averaging %s per page, threshold is %s", perPage.Round(time.Second), c.cfg.SlowPageThreshold))
	}

	if m.PagesScraped > 0 {
		rate := float64(m.ErrorCount) / float64(m.PagesScraped)
		if rate > c.cfg.ErrorRateCritical {
			c.raiseLocked(m, types.AlertHighErrorRate, types.SeverityCritical,
				fmt.Sprintf("error rate %.0f%% across %d pages", rate*100, m.PagesScraped))
		} else if rate > c.cfg.ErrorRateHigh {
			c.raiseLocked(m, types.AlertHighErrorRate, types.SeverityHigh,
				fmt.Sprintf("error rate %.0f%% across %d pages", rate*100, m.PagesScraped))
		}
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.MemoryBytes = stats.Alloc
	m.GoroutineSnap = runtime.NumGoroutine()
	if stats.Alloc > c.cfg.MemoryThresholdMB*1024*1024 {
		c.raiseLocked(m, types.AlertMemoryPressure, types.SeverityHigh,
			fmt.Sprintf("process memory %dMB exceeds the %dMB threshold", stats.Alloc/(1024*1024), c.cfg.MemoryThresholdMB))
	}
}

// raiseLocked publishes one alert, at most once per (job, kind, severity).
// Caller holds c.mu.
func (c *Collector) raiseLocked(m *models.JobMetrics, kind types.AlertKind, severity types.AlertSeverity, message string) {
	key := string(kind) + "/" + string(severity)
	seen, ok := c.alerted[m.JobID]
	if !ok {
		seen = make(map[string]bool)
		c.alerted[m.JobID] = seen
	}
	if seen[key] {
		return
	}
	seen[key] = true

	alert := &models.PerformanceAlert{
		Kind:     kind,
		Severity: severity,
		TenantID: m.TenantID,
		JobID:    m.JobID,
		Message:  message,
		Metrics: map[string]interface{}{
			"pagesScraped": m.PagesScraped,
			"recordsFound": m.RecordsFound,
			"errorCount":   m.ErrorCount,
			"retryCount":   m.RetryCount,
			"elapsedMs":    c.now().Sub(m.StartTime).Milliseconds(),
		},
		Timestamp: c.now(),
	}

	c.logger.WithJob(m.JobID, m.TenantID).WithFields(map[string]interface{}{
		"kind":     string(kind),
		"severity": string(severity),
	}).Warn("Performance alert: " + message)

	c.sink.PublishAlert(alert)
}

func copyMetrics(m *models.JobMetrics) *models.JobMetrics {
	cp := *m
	if m.EndTime != nil {
		end := *m.EndTime
		cp.EndTime = &end
	}
	return &cp
}

var _ AlertSink = NoopSink{}
