package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// JobStore tracks harvest jobs submitted through the API for the life of the process.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: map[string]harvest.Job{}}
}

// CreateJob records a new job. Ids must be unique.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.ID]; dup {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// StartJob marks a job as running.
func (s *JobStore) StartJob(_ context.Context, jobID string, started time.Time) error {
	return s.update(jobID, func(job *harvest.Job) {
		job.Status = harvest.JobStatusRunning
		job.Started = utc(started)
	})
}

// FinishJob stores the terminal status and, when present, a copy of the summary.
func (s *JobStore) FinishJob(
	_ context.Context,
	jobID string,
	status harvest.JobStatus,
	finished time.Time,
	errText string,
	summary *harvest.Summary,
) error {
	return s.update(jobID, func(job *harvest.Job) {
		job.Status = status
		job.ErrorText = errText
		job.Finished = utc(finished)
		if summary != nil {
			cp := *summary
			job.Summary = &cp
		}
	})
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, harvest.ErrJobNotFound
	}
	return job, nil
}

func (s *JobStore) update(jobID string, mutate func(*harvest.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.ErrJobNotFound
	}
	mutate(&job)
	s.jobs[jobID] = job
	return nil
}

func utc(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}
