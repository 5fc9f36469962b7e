package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
	"creditjobs/internal/events"
	"creditjobs/internal/queue"
)

// cancelAttempts bounds re-resolution after losing a status compare-and-set to
// a concurrent transition.
const cancelAttempts = 3

// CancelResult reports the outcome of a successful cancel.
type CancelResult struct {
	JobID    string
	Status   domain.JobStatus
	State    queue.State
	Refunded bool
}

// Canceller stops jobs on behalf of their owner. Waiting work is removed and
// cancelled; in-flight work is marked failed with user_cancelled and the worker
// is left to notice. Every path refunds through the Compensator.
type Canceller struct {
	tracker     *Tracker
	jobs        domain.JobRepository
	queue       queue.Queue
	compensator *Compensator
	hooks       Hooks
	emitter     *events.Emitter
	logger      zerolog.Logger
}

// NewCanceller wires a Canceller. hooks may be nil.
func NewCanceller(tracker *Tracker, jobs domain.JobRepository, q queue.Queue, compensator *Compensator, hooks Hooks, emitter *events.Emitter, logger zerolog.Logger) *Canceller {
	return &Canceller{
		tracker:     tracker,
		jobs:        jobs,
		queue:       q,
		compensator: compensator,
		hooks:       hooks,
		emitter:     emitter,
		logger:      logger,
	}
}

// SetHooks attaches the lifecycle hooks after construction.
func (c *Canceller) SetHooks(h Hooks) {
	c.hooks = h
}

// Cancel cancels jobID for requesterID. It returns domain.ErrNotFound,
// domain.ErrForbidden or domain.ErrConflict when nothing was changed.
func (c *Canceller) Cancel(ctx context.Context, jobID, requesterID, reason string) (CancelResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by owner"
	}
	for range cancelAttempts {
		st, job, err := c.tracker.Resolve(ctx, jobID)
		if err != nil {
			return CancelResult{}, err
		}
		if job.OwnerID != requesterID {
			return CancelResult{}, domain.ErrForbidden
		}
		if job.Terminal() {
			return CancelResult{}, domain.ErrConflict
		}

		updated, state, err := c.transition(ctx, st, job, reason)
		if errors.Is(err, errFinished) {
			return CancelResult{}, domain.ErrConflict
		}
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return CancelResult{}, err
		}
		return c.finish(ctx, updated, state), nil
	}
	return CancelResult{}, domain.ErrConflict
}

// transition applies the single status compare-and-set that decides the race.
func (c *Canceller) transition(ctx context.Context, st Status, job *domain.Job, reason string) (*domain.Job, queue.State, error) {
	active := []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}

	// Failed but awaiting a retry timer: no queue work is outstanding.
	if job.Status == domain.JobStatusFailed {
		updated, err := c.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobStatusFailed}, domain.JobStatusCancelled, domain.FailureUserCancelled, reason)
		if err != nil {
			return nil, "", err
		}
		c.removeBestEffort(ctx, job)
		return updated, StateCancelled, nil
	}

	if st.FromRecord {
		if job.Status == domain.JobStatusProcessing {
			updated, err := c.jobs.Transition(ctx, job.ID, active, domain.JobStatusFailed, domain.FailureUserCancelled, reason)
			return updated, queue.StateFailed, err
		}
		updated, err := c.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusCancelled, domain.FailureUserCancelled, reason)
		return updated, StateCancelled, err
	}

	switch st.State {
	case queue.StateWaiting:
		err := c.queue.Remove(ctx, job.Category, job.ID)
		switch {
		case errors.Is(err, queue.ErrItemLocked):
			// Claimed between resolve and remove; resolve again as active.
			return nil, "", domain.ErrConflict
		case err != nil && !errors.Is(err, queue.ErrItemNotFound):
			return nil, "", errors.Join(domain.ErrTransient, err)
		}
		updated, err := c.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusCancelled, domain.FailureUserCancelled, reason)
		return updated, StateCancelled, err

	case queue.StateActive:
		updated, err := c.jobs.Transition(ctx, job.ID, active, domain.JobStatusFailed, domain.FailureUserCancelled, reason)
		if err != nil {
			return nil, "", err
		}
		if err := c.queue.MoveToFailed(ctx, job.Category, job.ID, domain.FailureUserCancelled, reason); err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("cancel: move active item to failed")
		}
		return updated, queue.StateFailed, nil

	case queue.StateFailed:
		// The worker gave up but recovery has not seen it yet; nothing runs.
		updated, err := c.jobs.Transition(ctx, job.ID, active, domain.JobStatusCancelled, domain.FailureUserCancelled, reason)
		return updated, StateCancelled, err
	}
	// Completed in the queue: the job succeeded.
	return nil, "", errFinished
}

var errFinished = errors.New("job already finished")

func (c *Canceller) finish(ctx context.Context, job *domain.Job, state queue.State) CancelResult {
	log := c.logger.With().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Logger()
	if c.hooks != nil {
		c.hooks.JobCancelled(ctx, *job)
	}
	refunded, err := c.compensator.Refund(ctx, *job)
	if err != nil {
		// The record is already terminal; the recovery engine retries the refund.
		log.Error().Err(err).Msg("cancel: refund failed")
	}
	c.emitter.Emit(domain.NewEvent(domain.EventCancelled, *job))
	log.Info().Str("status", string(job.Status)).Bool("refunded", refunded).Msg("cancel: job stopped")
	return CancelResult{
		JobID:    job.ID,
		Status:   job.Status,
		State:    state,
		Refunded: refunded,
	}
}

func (c *Canceller) removeBestEffort(ctx context.Context, job *domain.Job) {
	err := c.queue.Remove(ctx, job.Category, job.ID)
	if err != nil && !errors.Is(err, queue.ErrItemNotFound) {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("cancel: remove queue item")
	}
}
