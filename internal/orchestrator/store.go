package orchestrator

import (
	"sync"
	"time"

	"github.com/tender-ingest/internal/models"
)

// JobStore holds job state in memory. It is injected into the orchestrator
// rather than owned by it so tests and alternative deployments can supply
// their own arena. Terminal jobs stay queryable until the retention sweep
// evicts them.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*models.Job)}
}

// Put stores a job, replacing any previous entry with the same id.
func (s *JobStore) Put(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns a copy of the job, or nil when unknown.
func (s *JobStore) Get(jobID string) *models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if job, ok := s.jobs[jobID]; ok {
		return copyJob(job)
	}
	return nil
}

// Mutate applies fn to the stored job under the write lock. Returns false
// when the job is unknown.
func (s *JobStore) Mutate(jobID string, fn func(job *models.Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// List returns copies of all jobs for a tenant, newest first.
func (s *JobStore) List(tenantID string) []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			out = append(out, copyJob(job))
		}
	}
	sortJobsByCreatedDesc(out)
	return out
}

// EvictTerminalBefore removes terminal jobs that ended before the cutoff.
// Returns the ids evicted.
func (s *JobStore) EvictTerminalBefore(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		if job.EndedAt != nil && job.EndedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func copyJob(job *models.Job) *models.Job {
	cp := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.EndedAt != nil {
		t := *job.EndedAt
		cp.EndedAt = &t
	}
	if job.Result != nil {
		r := *job.Result
		cp.Result = &r
	}
	if job.Error != nil {
		e := *job.Error
		cp.Error = &e
	}
	if job.ErrorInfo != nil {
		ei := *job.ErrorInfo
		cp.ErrorInfo = &ei
	}
	return &cp
}

func sortJobsByCreatedDesc(jobs []*models.Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.After(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}
