// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// JobStore keeps ingestion jobs in memory. Jobs are never deleted, only
// terminally marked.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]knowledge.IngestionJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]knowledge.IngestionJob)}
}

// CreateJob stores a new job. Creating the same ID twice is an error.
func (s *JobStore) CreateJob(_ context.Context, job knowledge.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (knowledge.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return knowledge.IngestionJob{}, errors.New("job not found")
	}
	return job, nil
}

// UpdateStatus moves a job to the given status and stamps updated_at.
func (s *JobStore) UpdateStatus(_ context.Context, jobID string, status knowledge.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if status.IsTerminal() && job.CompletedAt == nil {
		job.CompletedAt = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress writes the progress record for a job.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, p knowledge.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Progress = &p
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// RecordFailure increments the attempt count, stores the error payload, and
// moves the job to status. nextAttemptAt is set only for retry_pending.
func (s *JobStore) RecordFailure(_ context.Context, jobID string, info knowledge.ErrorInfo, failedStage string, status knowledge.JobStatus, nextAttemptAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	now := time.Now().UTC()
	job.Attempts++
	job.ErrorInfo = &info
	job.FailedStage = failedStage
	job.Status = status
	job.LastAttemptAt = pointerTime(now)
	job.NextAttemptAt = nextAttemptAt
	job.UpdatedAt = now
	if status.IsTerminal() && job.CompletedAt == nil {
		job.CompletedAt = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// SetRelatedObject links the job to the persisted object it produced.
func (s *JobStore) SetRelatedObject(_ context.Context, jobID string, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.RelatedObjectID = objectID
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// DueJobs returns up to limit jobs that are queued, or retry_pending with
// next_attempt_at <= now, ordered by priority (desc) then creation time.
func (s *JobStore) DueJobs(_ context.Context, now time.Time, limit int) ([]knowledge.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []knowledge.IngestionJob
	for _, job := range s.jobs {
		switch job.Status {
		case knowledge.StatusQueued:
			due = append(due, job)
		case knowledge.StatusRetryPending:
			if job.NextAttemptAt != nil && !job.NextAttemptAt.After(now) {
				due = append(due, job)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
