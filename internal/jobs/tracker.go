package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditjobs/internal/domain"
	"creditjobs/internal/queue"
)

// StateCancelled is reported for cancelled jobs whose queue item is gone.
const StateCancelled queue.State = "cancelled"

// Status is the normalized view of a job across categories.
type Status struct {
	JobID    string
	Category domain.Category
	State    queue.State
	Progress int
	Result   json.RawMessage
	// Error is the failure detail of a failed item.
	Error   string
	Failure domain.FailureKind
	// FromRecord is set when the queue no longer holds the item.
	FromRecord bool
	UpdatedAt  time.Time
}

// Tracker resolves a job id to its status by probing each category queue in
// domain.Categories order. The job record acts as a fallback index once the
// queue has purged the item.
type Tracker struct {
	queue queue.Queue
	jobs  domain.JobRepository
}

// NewTracker creates a Tracker. jobs may be nil to disable the record fallback.
func NewTracker(q queue.Queue, jobs domain.JobRepository) *Tracker {
	return &Tracker{queue: q, jobs: jobs}
}

// Status returns the status of jobID or domain.ErrNotFound.
func (t *Tracker) Status(ctx context.Context, jobID string) (Status, error) {
	st, _, err := t.resolve(ctx, jobID, false)
	return st, err
}

// Resolve returns the status together with the job record.
func (t *Tracker) Resolve(ctx context.Context, jobID string) (Status, *domain.Job, error) {
	return t.resolve(ctx, jobID, true)
}

func (t *Tracker) resolve(ctx context.Context, jobID string, needRecord bool) (Status, *domain.Job, error) {
	for _, cat := range domain.Categories {
		item, err := t.queue.Get(ctx, cat, jobID)
		if errors.Is(err, queue.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return Status{}, nil, fmt.Errorf("%w: probe %s queue: %v", domain.ErrTransient, cat, err)
		}
		st := Status{
			JobID:    jobID,
			Category: cat,
			State:    item.State,
			Progress: item.Progress,
		}
		switch item.State {
		case queue.StateCompleted:
			st.Result = item.Result
		case queue.StateFailed:
			// Unknown tags come back as unclassified, which is never retried.
			st.Failure, _ = domain.ParseFailureKind(item.FailureKind)
			st.Error = item.FailureDetail
			if st.Error == "" {
				st.Error = item.FailureKind
			}
		}
		if !needRecord || t.jobs == nil {
			return st, nil, nil
		}
		job, err := t.jobs.Get(ctx, jobID)
		if err != nil {
			return Status{}, nil, err
		}
		return st, job, nil
	}

	if t.jobs == nil {
		return Status{}, nil, domain.ErrNotFound
	}
	job, err := t.jobs.Get(ctx, jobID)
	if err != nil {
		return Status{}, nil, err
	}
	return statusFromRecord(job), job, nil
}

func statusFromRecord(job *domain.Job) Status {
	st := Status{JobID: job.ID, Category: job.Category, FromRecord: true, UpdatedAt: job.UpdatedAt}
	switch job.Status {
	case domain.JobStatusPending:
		st.State = queue.StateWaiting
	case domain.JobStatusProcessing:
		st.State = queue.StateActive
	case domain.JobStatusCompleted:
		st.State = queue.StateCompleted
		st.Progress = 100
	case domain.JobStatusFailed:
		st.State = queue.StateFailed
		st.Failure = job.FailureReason
		st.Error = job.FailureDetail
		if st.Error == "" {
			st.Error = string(job.FailureReason)
		}
	case domain.JobStatusCancelled:
		st.State = StateCancelled
	}
	return st
}
