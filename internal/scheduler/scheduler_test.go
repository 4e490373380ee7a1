package scheduler

import (
	"context"
	"errors"
	"fmt"
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

// memScheduleStore is an in-memory ScheduleStore.
type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]*models.ScheduledJob
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: make(map[string]*models.ScheduledJob)}
}

func (s *memScheduleStore) Save(ctx context.Context, sched *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *memScheduleStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.schedules[id]; ok {
		cp := *sched
		return &cp, nil
	}
	return nil, nil
}

func (s *memScheduleStore) List(ctx context.Context) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ScheduledJob, 0, len(s.schedules))
	for _, sched := range s.schedules {
		cp := *sched
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memScheduleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}

// fakeStarter records started jobs and reports them completed immediately.
type fakeStarter struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (f *fakeStarter) Start(ctx context.Context, tenantID, userID string, opts models.JobOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	jobID := fmt.Sprintf("job-%d", len(f.started)+1)
	f.started = append(f.started, jobID)
	return jobID, nil
}

func (f *fakeStarter) GetStatus(jobID string) (*models.Job, error) {
	return &models.Job{
		ID:     jobID,
		Status: types.JobStatusCompleted,
		Result: &models.JobResult{RecordsImported: 7},
	}, nil
}

func (f *fakeStarter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeStarter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		SweepInterval:        time.Minute,
		PurgeAfter:           30 * 24 * time.Hour,
		DefaultIntervalHours: 6,
	}
}

func newTestScheduler(cfg config.SchedulerConfig, store ScheduleStore, starter JobStarter, now func() time.Time) *Scheduler {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	return New(cfg, store, starter, logger, WithClock(now))
}

func TestScheduleComputesNextRunOneIntervalOut(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMemScheduleStore()
	s := newTestScheduler(testSchedulerConfig(), store, &fakeStarter{}, func() time.Time { return base })
	defer s.Stop()

	sched, err := s.Schedule(context.Background(), "tenant-1", "user-1", 6, models.JobOptions{Portal: types.PortalZakupSK})
	require.NoError(t, err)

	assert.Equal(t, base.Add(6*time.Hour), sched.NextRun)
	assert.Equal(t, 6*time.Hour, sched.Interval)
	assert.True(t, sched.Active)

	persisted, err := store.Get(context.Background(), sched.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, sched.NextRun, persisted.NextRun)
}

func TestScheduleValidation(t *testing.T) {
	s := newTestScheduler(testSchedulerConfig(), newMemScheduleStore(), &fakeStarter{}, time.Now)
	defer s.Stop()

	_, err := s.Schedule(context.Background(), "", "user-1", 6, models.JobOptions{})
	require.Error(t, err)

	_, err = s.Schedule(context.Background(), "tenant-1", "user-1", 0, models.JobOptions{})
	require.Error(t, err)
}

func TestCancelDeactivatesSchedule(t *testing.T) {
	store := newMemScheduleStore()
	s := newTestScheduler(testSchedulerConfig(), store, &fakeStarter{}, time.Now)
	defer s.Stop()

	sched, err := s.Schedule(context.Background(), "tenant-1", "user-1", 6, models.JobOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), sched.ID))

	persisted, err := store.Get(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.False(t, persisted.Active)

	s.mu.Lock()
	_, armed := s.timers[sched.ID]
	s.mu.Unlock()
	assert.False(t, armed)

	require.Error(t, s.Cancel(context.Background(), "unknown"))
}

func TestUpdateRecomputesNextRun(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMemScheduleStore()
	s := newTestScheduler(testSchedulerConfig(), store, &fakeStarter{}, func() time.Time { return base })
	defer s.Stop()

	sched, err := s.Schedule(context.Background(), "tenant-1", "user-1", 6, models.JobOptions{})
	require.NoError(t, err)

	updated, err := s.Update(context.Background(), sched.ID, 12, models.JobOptions{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, updated.Interval)
	assert.Equal(t, base.Add(12*time.Hour), updated.NextRun)
	assert.Equal(t, 8, updated.Options.Workers)
}

func TestExecuteNowFiresWithoutAlteringCadence(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := newMemScheduleStore()
	starter := &fakeStarter{}
	s := newTestScheduler(testSchedulerConfig(), store, starter, clock)
	defer s.Stop()

	sched, err := s.Schedule(context.Background(), "tenant-1", "user-1", 6, models.JobOptions{})
	require.NoError(t, err)

	mu.Lock()
	now = base.Add(2 * time.Hour)
	mu.Unlock()

	jobID, err := s.ExecuteNow(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, 1, starter.startCount())

	persisted, err := store.Get(context.Background(), sched.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.LastRun)
	assert.Equal(t, base.Add(2*time.Hour), *persisted.LastRun)
	// The manual run leaves the regular cadence alone.
	assert.Equal(t, base.Add(6*time.Hour), persisted.NextRun)
}

func TestExecuteNowRecordsOutcome(t *testing.T) {
	store := newMemScheduleStore()
	starter := &fakeStarter{}
	s := newTestScheduler(testSchedulerConfig(), store, starter, time.Now)
	defer s.Stop()

	sched, err := s.Schedule(context.Background(), "tenant-1", "user-1", 6, models.JobOptions{})
	require.NoError(t, err)

	_, err = s.ExecuteNow(context.Background(), sched.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		persisted, err := store.Get(context.Background(), sched.ID)
		if err != nil || persisted == nil || persisted.LastResult == nil {
			return false
		}
		return persisted.LastResult.Status == string(types.JobStatusCompleted) &&
			persisted.LastResult.Result.RecordsImported == 7
	}, 5*time.Second, 100*time.Millisecond)
}

func TestSweepRecoversOverdueSchedule(t *testing.T) {
	base := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	store := newMemScheduleStore()
	starter := &fakeStarter{}
	s := newTestScheduler(testSchedulerConfig(), store, starter, func() time.Time { return base })
	defer s.Stop()

	// Persisted by a previous process: due an hour ago, no live timer.
	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{
		ID:        "recovered",
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Interval:  6 * time.Hour,
		NextRun:   base.Add(-time.Hour),
		Active:    true,
		CreatedAt: base.Add(-8 * time.Hour),
		UpdatedAt: base.Add(-7 * time.Hour),
	}))

	s.sweep(context.Background())

	assert.Equal(t, 1, starter.startCount(), "overdue schedule fires during the sweep")

	persisted, err := store.Get(context.Background(), "recovered")
	require.NoError(t, err)
	assert.Equal(t, base.Add(6*time.Hour), persisted.NextRun)

	s.mu.Lock()
	_, armed := s.timers["recovered"]
	s.mu.Unlock()
	assert.True(t, armed, "recovered schedule is re-armed")
}

func TestSweepRecoversAfterFailedTimerFire(t *testing.T) {
	base := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	store := newMemScheduleStore()
	starter := &fakeStarter{err: errors.New("orchestrator unavailable")}
	s := newTestScheduler(testSchedulerConfig(), store, starter, func() time.Time { return base })
	defer s.Stop()

	sched := &models.ScheduledJob{
		ID:       "flaky",
		TenantID: "tenant-1",
		UserID:   "user-1",
		Interval: 6 * time.Hour,
		NextRun:  base.Add(-time.Minute),
		Active:   true,
	}
	require.NoError(t, store.Save(context.Background(), sched))

	// The overdue timer fires immediately and the start fails. The spent
	// timer must not linger in the map or the sweep would skip the schedule
	// until the next restart.
	s.arm(sched)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, armed := s.timers["flaky"]
		return !armed
	}, 5*time.Second, 10*time.Millisecond, "spent timer entry should be released")
	assert.Equal(t, 0, starter.startCount())

	starter.setErr(nil)
	s.sweep(context.Background())

	assert.Equal(t, 1, starter.startCount(), "sweep re-fires once the starter recovers")

	persisted, err := store.Get(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, base.Add(6*time.Hour), persisted.NextRun)
}

func TestSweepArmsFutureScheduleWithoutFiring(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMemScheduleStore()
	starter := &fakeStarter{}
	s := newTestScheduler(testSchedulerConfig(), store, starter, func() time.Time { return base })
	defer s.Stop()

	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{
		ID:       "future",
		TenantID: "tenant-1",
		Interval: 6 * time.Hour,
		NextRun:  base.Add(2 * time.Hour),
		Active:   true,
	}))

	s.sweep(context.Background())

	assert.Equal(t, 0, starter.startCount())
	s.mu.Lock()
	_, armed := s.timers["future"]
	s.mu.Unlock()
	assert.True(t, armed)
}

func TestSweepPurgesLongInactiveSchedules(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMemScheduleStore()
	s := newTestScheduler(testSchedulerConfig(), store, &fakeStarter{}, func() time.Time { return base })
	defer s.Stop()

	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{
		ID:        "stale",
		TenantID:  "tenant-1",
		Active:    false,
		UpdatedAt: base.Add(-31 * 24 * time.Hour),
	}))
	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{
		ID:        "recent",
		TenantID:  "tenant-1",
		Active:    false,
		UpdatedAt: base.Add(-2 * 24 * time.Hour),
	}))

	s.sweep(context.Background())

	stale, err := store.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)

	recent, err := store.Get(context.Background(), "recent")
	require.NoError(t, err)
	assert.NotNil(t, recent)
}

func TestStartBootstrapsWhenEmpty(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.Bootstrap = true
	cfg.BootstrapTenantID = "tenant-default"

	store := newMemScheduleStore()
	s := newTestScheduler(cfg, store, &fakeStarter{}, time.Now)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	schedules, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "tenant-default", schedules[0].TenantID)
	assert.Equal(t, 6*time.Hour, schedules[0].Interval)
	assert.True(t, schedules[0].Active)
}

func TestListActiveFiltersTenantAndState(t *testing.T) {
	store := newMemScheduleStore()
	s := newTestScheduler(testSchedulerConfig(), store, &fakeStarter{}, time.Now)
	defer s.Stop()

	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{ID: "a", TenantID: "tenant-1", Active: true}))
	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{ID: "b", TenantID: "tenant-1", Active: false}))
	require.NoError(t, store.Save(context.Background(), &models.ScheduledJob{ID: "c", TenantID: "tenant-2", Active: true}))

	active, err := s.ListActive(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}
