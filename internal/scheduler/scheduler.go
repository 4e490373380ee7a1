// Package scheduler manages recurring ingestion runs. Each schedule owns one
// timer; persisted state lets schedules survive restarts via the recovery
// sweep. A single instance owns all timers, there is no distributed lock.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tender-ingest/internal/config"
	pipeerrors "github.com/tender-ingest/internal/errors"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// ScheduleStore persists schedules as opaque blobs keyed by id.
// Get returns (nil, nil) when the id is unknown.
type ScheduleStore interface {
	Save(ctx context.Context, schedule *models.ScheduledJob) error
	Get(ctx context.Context, id string) (*models.ScheduledJob, error)
	List(ctx context.Context) ([]*models.ScheduledJob, error)
	Delete(ctx context.Context, id string) error
}

// JobStarter is the orchestrator slice the scheduler drives.
type JobStarter interface {
	Start(ctx context.Context, tenantID, userID string, opts models.JobOptions) (string, error)
	GetStatus(jobID string) (*models.Job, error)
}

// resultPollInterval is how often a fired schedule polls its job for the
// terminal state to record as lastResult.
const resultPollInterval = 2 * time.Second

// resultPollTimeout bounds how long a fired schedule waits on its job.
const resultPollTimeout = time.Hour

// Scheduler arms one timer per active schedule and starts jobs when they
// fire.
type Scheduler struct {
	cfg     config.SchedulerConfig
	store   ScheduleStore
	starter JobStarter
	logger  *logging.Logger
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures optional scheduler behaviour.
type Option func(*Scheduler)

// WithClock pins the scheduler's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, store ScheduleStore, starter JobStarter, logger *logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		starter: starter,
		logger:  logger,
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads persisted schedules, arms the active ones and launches the
// recovery and purge sweeps. Creates the bootstrap schedule when the store
// is empty and bootstrapping is enabled.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	if len(schedules) == 0 && s.cfg.Bootstrap && s.cfg.BootstrapTenantID != "" {
		bootstrap, err := s.Schedule(ctx, s.cfg.BootstrapTenantID, "system", s.cfg.DefaultIntervalHours, models.JobOptions{
			Portal:   types.PortalZakupSK,
			Headless: true,
		})
		if err != nil {
			return fmt.Errorf("failed to create bootstrap schedule: %w", err)
		}
		s.logger.WithFields(map[string]interface{}{
			"scheduleId": bootstrap.ID,
			"interval":   bootstrap.Interval.String(),
		}).Info("Created bootstrap schedule")
	} else {
		armed := 0
		for _, sched := range schedules {
			if sched.Active {
				s.arm(sched)
				armed++
			}
		}
		s.logger.WithFields(map[string]interface{}{
			"loaded": len(schedules),
			"armed":  armed,
		}).Info("Scheduler started")
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)
	return nil
}

// Stop cancels all timers and waits for background work.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule creates and arms a new recurring run. The first run fires one
// full interval from now.
func (s *Scheduler) Schedule(ctx context.Context, tenantID, userID string, intervalHours int, opts models.JobOptions) (*models.ScheduledJob, error) {
	if tenantID == "" {
		return nil, pipeerrors.NewInvalidParameterError("tenantId", "must not be empty")
	}
	if intervalHours <= 0 {
		return nil, pipeerrors.NewInvalidParameterError("intervalHours", "must be positive")
	}

	now := s.now()
	sched := &models.ScheduledJob{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		Interval:  time.Duration(intervalHours) * time.Hour,
		NextRun:   now.Add(time.Duration(intervalHours) * time.Hour),
		Active:    true,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Save(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to persist schedule: %w", err)
	}

	s.arm(sched)
	s.logger.WithFields(map[string]interface{}{
		"scheduleId": sched.ID,
		"tenantId":   tenantID,
		"nextRun":    sched.NextRun.Format(time.RFC3339),
	}).Info("Schedule created")

	return sched, nil
}

// Cancel deactivates a schedule and stops its timer. The record stays in the
// store until the purge sweep removes it.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sched == nil {
		return pipeerrors.NewNotFoundError("schedule", id)
	}

	s.disarm(id)

	sched.Active = false
	sched.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sched); err != nil {
		return fmt.Errorf("failed to persist schedule: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{"scheduleId": id}).Info("Schedule cancelled")
	return nil
}

// Update replaces a schedule's interval and job template, recomputing the
// next run from now.
func (s *Scheduler) Update(ctx context.Context, id string, intervalHours int, opts models.JobOptions) (*models.ScheduledJob, error) {
	if intervalHours <= 0 {
		return nil, pipeerrors.NewInvalidParameterError("intervalHours", "must be positive")
	}

	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, pipeerrors.NewNotFoundError("schedule", id)
	}

	now := s.now()
	sched.Interval = time.Duration(intervalHours) * time.Hour
	sched.NextRun = now.Add(sched.Interval)
	sched.Options = opts
	sched.Active = true
	sched.UpdatedAt = now

	if err := s.store.Save(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to persist schedule: %w", err)
	}

	s.arm(sched)
	return sched, nil
}

// ExecuteNow fires a schedule immediately, outside its normal cadence. The
// timer and NextRun are left untouched so the regular cadence is unaffected.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string) (string, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sched == nil {
		return "", pipeerrors.NewNotFoundError("schedule", id)
	}

	jobID, err := s.starter.Start(ctx, sched.TenantID, sched.UserID, sched.Options)
	if err != nil {
		return "", err
	}

	now := s.now()
	sched.LastRun = &now
	sched.UpdatedAt = now
	if err := s.store.Save(ctx, sched); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"scheduleId": sched.ID,
		}).Warn("Failed to persist schedule after manual run")
	}

	s.logger.WithFields(map[string]interface{}{
		"scheduleId": sched.ID,
		"jobId":      jobID,
	}).Info("Schedule executed manually")

	s.wg.Add(1)
	go s.recordOutcome(sched.ID, jobID)

	return jobID, nil
}

// ListActive returns a tenant's active schedules.
func (s *Scheduler) ListActive(ctx context.Context, tenantID string) ([]*models.ScheduledJob, error) {
	schedules, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ScheduledJob, 0)
	for _, sched := range schedules {
		if sched.Active && sched.TenantID == tenantID {
			out = append(out, sched)
		}
	}
	return out, nil
}

// arm replaces the schedule's timer with one firing at NextRun.
func (s *Scheduler) arm(sched *models.ScheduledJob) {
	delay := sched.NextRun.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	id := sched.ID

	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		select {
		case <-s.stopCh:
			return
		default:
		}

		// This timer is spent. Drop its entry before firing so that a
		// failed fire leaves the schedule visible to the recovery sweep;
		// a successful fire re-arms and re-inserts. A concurrent re-arm
		// owns the map entry by now, so only remove our own.
		s.mu.Lock()
		if s.timers[id] == timer {
			delete(s.timers, id)
		}
		s.mu.Unlock()

		ctx := context.Background()
		sched, err := s.store.Get(ctx, id)
		if err != nil || sched == nil || !sched.Active {
			return
		}
		if _, err := s.fire(ctx, sched); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"scheduleId": id,
			}).Error("Scheduled run failed to start")
		}
	})
	s.timers[id] = timer
	s.mu.Unlock()
}

func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// fire starts one job for the schedule, advances the next run and re-arms.
// The terminal job outcome is recorded asynchronously as lastResult.
func (s *Scheduler) fire(ctx context.Context, sched *models.ScheduledJob) (string, error) {
	jobID, err := s.starter.Start(ctx, sched.TenantID, sched.UserID, sched.Options)
	if err != nil {
		return "", err
	}

	now := s.now()
	sched.LastRun = &now
	sched.NextRun = now.Add(sched.Interval)
	sched.UpdatedAt = now
	if err := s.store.Save(ctx, sched); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"scheduleId": sched.ID,
		}).Warn("Failed to persist schedule after firing")
	}
	s.arm(sched)

	s.logger.WithFields(map[string]interface{}{
		"scheduleId": sched.ID,
		"jobId":      jobID,
		"nextRun":    sched.NextRun.Format(time.RFC3339),
	}).Info("Schedule fired")

	s.wg.Add(1)
	go s.recordOutcome(sched.ID, jobID)

	return jobID, nil
}

// recordOutcome polls the job until terminal and persists the summary.
func (s *Scheduler) recordOutcome(scheduleID, jobID string) {
	defer s.wg.Done()

	deadline := time.NewTimer(resultPollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			job, err := s.starter.GetStatus(jobID)
			if err != nil || job == nil {
				return
			}
			if !job.Status.IsTerminal() {
				continue
			}

			ctx := context.Background()
			sched, err := s.store.Get(ctx, scheduleID)
			if err != nil || sched == nil {
				return
			}

			sched.LastResult = &models.ScheduleResult{
				JobID:      jobID,
				Status:     string(job.Status),
				Result:     job.Result,
				Error:      job.Error,
				FinishedAt: s.now(),
			}
			sched.UpdatedAt = s.now()
			if err := s.store.Save(ctx, sched); err != nil {
				s.logger.WithError(err).WithFields(map[string]interface{}{
					"scheduleId": scheduleID,
				}).Warn("Failed to persist schedule outcome")
			}
			return
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep re-arms active schedules that lost their timer (crash recovery) and
// purges schedules that have been inactive past the retention window.
func (s *Scheduler) sweep(ctx context.Context) {
	schedules, err := s.store.List(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Schedule sweep failed to list schedules")
		return
	}

	now := s.now()
	purgeCutoff := now.Add(-s.cfg.PurgeAfter)

	for _, sched := range schedules {
		if !sched.Active {
			if sched.UpdatedAt.Before(purgeCutoff) {
				if err := s.store.Delete(ctx, sched.ID); err != nil {
					s.logger.WithError(err).WithFields(map[string]interface{}{
						"scheduleId": sched.ID,
					}).Warn("Failed to purge schedule")
					continue
				}
				s.logger.WithFields(map[string]interface{}{
					"scheduleId": sched.ID,
				}).Info("Purged inactive schedule")
			}
			continue
		}

		s.mu.Lock()
		_, armed := s.timers[sched.ID]
		s.mu.Unlock()
		if armed {
			continue
		}

		// An active schedule with no timer means this process restarted
		// since it was armed.
		if sched.NextRun.After(now) {
			s.arm(sched)
			continue
		}
		if _, err := s.fire(ctx, sched); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"scheduleId": sched.ID,
			}).Error("Recovered schedule failed to start")
		}
	}
}
