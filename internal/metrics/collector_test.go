package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tender-ingest/internal/config"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []*models.PerformanceAlert
}

func (s *captureSink) PublishAlert(alert *models.PerformanceAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *captureSink) all() []*models.PerformanceAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PerformanceAlert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		SlowPageThreshold:   30 * time.Second,
		MaxRuntimeThreshold: 30 * time.Minute,
		ErrorRateHigh:       0.2,
		ErrorRateCritical:   0.5,
		MemoryThresholdMB:   1 << 20, // effectively disabled for tests
		WatchdogInterval:    time.Minute,
		CleanupInterval:     time.Hour,
		StaleMetricsAge:     24 * time.Hour,
	}
}

func newTestCollector(cfg config.MetricsConfig, sink AlertSink, clock *fakeClock) *Collector {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	return NewCollector(cfg, sink, logger, WithClock(clock.Now))
}

func intPtr(v int) *int { return &v }

func TestCollectorTracksJobLifecycle(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	c := newTestCollector(testConfig(), &captureSink{}, clock)

	c.StartTracking("job-1", "tenant-1")
	c.Update("job-1", models.MetricsUpdate{PagesScraped: intPtr(5), RecordsFound: intPtr(120)})
	c.IncrementRetries("job-1")

	live := c.Get("job-1")
	require.NotNil(t, live)
	assert.Equal(t, 5, live.PagesScraped)
	assert.Equal(t, 120, live.RecordsFound)
	assert.Equal(t, 1, live.RetryCount)
	assert.Len(t, c.Active(), 1)

	clock.Advance(90 * time.Second)
	final := c.Complete("job-1", &models.JobResult{PagesProcessed: 6, RecordsFound: 150})
	require.NotNil(t, final)
	require.NotNil(t, final.EndTime)
	assert.Equal(t, int64(90_000), final.DurationMs)
	assert.Equal(t, 6, final.PagesScraped, "final counts override progress parsing")
	assert.Equal(t, 150, final.RecordsFound)

	assert.Nil(t, c.Get("job-1"))
	assert.Empty(t, c.Active())
	assert.Nil(t, c.Complete("job-1", nil), "completing twice is a no-op")
}

func TestCollectorErrorRateSeverities(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	c := newTestCollector(testConfig(), sink, clock)

	c.StartTracking("job-1", "tenant-1")
	c.Update("job-1", models.MetricsUpdate{PagesScraped: intPtr(10)})

	// 3 errors over 10 pages is 30%, above the 20% high threshold.
	for i := 0; i < 3; i++ {
		c.IncrementErrors("job-1")
	}

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertHighErrorRate, alerts[0].Kind)
	assert.Equal(t, types.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "tenant-1", alerts[0].TenantID)

	// 6 errors over 10 pages is 60%, above the 50% critical threshold. The
	// high alert must not repeat.
	for i := 0; i < 3; i++ {
		c.IncrementErrors("job-1")
	}

	alerts = sink.all()
	require.Len(t, alerts, 2)
	assert.Equal(t, types.AlertHighErrorRate, alerts[1].Kind)
	assert.Equal(t, types.SeverityCritical, alerts[1].Severity)
}

func TestCompleteRunsFinalThresholdPass(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	c := newTestCollector(testConfig(), sink, clock)

	c.StartTracking("job-1", "tenant-1")

	// Errors land while no page count is known yet, so nothing fires here.
	for i := 0; i < 3; i++ {
		c.IncrementErrors("job-1")
	}
	require.Empty(t, sink.all())

	// The final result carries the page count: 3 errors over 10 pages is
	// 30%, above the 20% high threshold.
	final := c.Complete("job-1", &models.JobResult{PagesProcessed: 10})
	require.NotNil(t, final)

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertHighErrorRate, alerts[0].Kind)
	assert.Equal(t, types.SeverityHigh, alerts[0].Severity)
}

func TestCollectorSlowPageAlert(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	c := newTestCollector(testConfig(), sink, clock)

	c.StartTracking("job-1", "tenant-1")

	// 5 minutes for 2 pages: 2.5 minutes per page against a 30s threshold.
	clock.Advance(5 * time.Minute)
	c.Update("job-1", models.MetricsUpdate{PagesScraped: intPtr(2)})

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertSlowScraping, alerts[0].Kind)
	assert.Equal(t, types.SeverityMedium, alerts[0].Severity)
}

func TestCollectorRuntimeCeilingAlert(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	c := newTestCollector(testConfig(), sink, clock)

	c.StartTracking("job-1", "tenant-1")

	clock.Advance(31 * time.Minute)
	c.Update("job-1", models.MetricsUpdate{PagesScraped: intPtr(100)})

	found := false
	for _, a := range sink.all() {
		if a.Kind == types.AlertSlowScraping && a.Severity == types.SeverityHigh {
			found = true
		}
		assert.NotEqual(t, types.AlertStuckJob, a.Kind, "stuck detection belongs to the watchdog")
	}
	assert.True(t, found, "expected a high slow-scraping alert past the runtime ceiling")
}

func TestCollectorWatchdogRaisesStuckJob(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogInterval = 10 * time.Millisecond

	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	c := newTestCollector(cfg, sink, clock)

	c.StartTracking("job-1", "tenant-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	// Past twice the runtime ceiling the watchdog flags the job as stuck.
	clock.Advance(61 * time.Minute)

	require.Eventually(t, func() bool {
		for _, a := range sink.all() {
			if a.Kind == types.AlertStuckJob && a.Severity == types.SeverityCritical {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchdogStuckJobStillEvaluatesOtherThresholds(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	c := newTestCollector(testConfig(), sink, clock)

	c.StartTracking("job-1", "tenant-1")
	for i := 0; i < 3; i++ {
		c.IncrementErrors("job-1")
	}
	require.Empty(t, sink.all())

	// The page count arrives between ticks while the job sits past twice
	// the runtime ceiling, so the watchdog pass is the first evaluation
	// that can see the breached thresholds.
	c.mu.Lock()
	c.jobs["job-1"].PagesScraped = 10
	c.mu.Unlock()
	clock.Advance(61 * time.Minute)

	c.mu.Lock()
	c.evaluateLocked(c.jobs["job-1"], true)
	c.mu.Unlock()

	raised := make(map[string]bool)
	for _, a := range sink.all() {
		raised[string(a.Kind)+"/"+string(a.Severity)] = true
	}
	assert.True(t, raised[string(types.AlertStuckJob)+"/"+string(types.SeverityCritical)])
	assert.True(t, raised[string(types.AlertSlowScraping)+"/"+string(types.SeverityHigh)],
		"runtime ceiling still checked on a stuck job")
	assert.True(t, raised[string(types.AlertHighErrorRate)+"/"+string(types.SeverityHigh)],
		"error rate still checked on a stuck job")
}

func TestCollectorEvictsStaleEntries(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	c := newTestCollector(testConfig(), &captureSink{}, clock)

	c.StartTracking("old-job", "tenant-1")
	clock.Advance(25 * time.Hour)
	c.StartTracking("fresh-job", "tenant-1")

	c.evictStale()

	assert.Nil(t, c.Get("old-job"))
	assert.NotNil(t, c.Get("fresh-job"))
}

func TestCollectorSystemSnapshot(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	c := newTestCollector(testConfig(), &captureSink{}, clock)

	c.StartTracking("job-1", "tenant-1")
	clock.Advance(time.Minute)

	snap := c.SystemSnapshot()
	assert.Equal(t, 1, snap.ActiveJobs)
	assert.Equal(t, time.Minute, snap.Uptime)
	assert.Greater(t, snap.Goroutines, 0)
	assert.Greater(t, snap.CPUs, 0)
	assert.NotZero(t, snap.MemoryAllocBytes)
}

func TestCollectorIgnoresUnknownJobs(t *testing.T) {
	c := newTestCollector(testConfig(), &captureSink{}, newFakeClock(time.Now()))

	c.Update("ghost", models.MetricsUpdate{PagesScraped: intPtr(1)})
	c.IncrementErrors("ghost")
	c.IncrementRetries("ghost")
	assert.Nil(t, c.Get("ghost"))
}
