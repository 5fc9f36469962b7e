// Package memory provides in-process implementations of the job repository,
// credit ledger and queue. Safe for concurrent use. Intended for development
// and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"creditjobs/internal/domain"
)

// JobStore implements domain.JobRepository.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewJobStore returns an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrDuplicateJob
	}
	now := time.Now().UTC()
	cp := *job
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.jobs[job.ID] = &cp
	job.CreatedAt, job.UpdatedAt = now, now
	return nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *JobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *JobStore) SetQueueRef(_ context.Context, jobID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.QueueRef = ref
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *JobStore) Transition(_ context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, reason domain.FailureKind, detail string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !slices.Contains(from, j.Status) {
		return nil, domain.ErrConflict
	}
	j.Status = to
	if reason != domain.FailureNone {
		j.FailureReason = reason
		j.FailureDetail = detail
	}
	j.UpdatedAt = time.Now().UTC()
	cp := *j
	return &cp, nil
}

func (s *JobStore) BeginRetry(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != domain.JobStatusFailed || j.RetryCount >= j.MaxRetries {
		return nil, domain.ErrConflict
	}
	j.Status = domain.JobStatusPending
	j.RetryCount++
	j.UpdatedAt = time.Now().UTC()
	cp := *j
	return &cp, nil
}

func (s *JobStore) MarkRefunded(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Refunded {
		return false, nil
	}
	j.Refunded = true
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *JobStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []domain.Job
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			items = append(items, *j)
		}
	}
	slices.SortFunc(items, func(a, b domain.Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

var _ domain.JobRepository = (*JobStore)(nil)
