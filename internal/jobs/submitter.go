package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
	"creditjobs/internal/events"
	"creditjobs/internal/pricing"
	"creditjobs/internal/queue"
)

// Hooks lets the recovery engine follow decisions taken on the request path.
type Hooks interface {
	JobSubmitted(ctx context.Context, job domain.Job)
	JobCancelled(ctx context.Context, job domain.Job)
	// JobAbandoned hands over a closed job whose refund did not go through.
	JobAbandoned(ctx context.Context, job domain.Job)
}

// SubmitRequest is one generation request from an authenticated owner.
type SubmitRequest struct {
	OwnerID    string
	Category   domain.Category
	Parameters domain.Parameters
	Payload    json.RawMessage
}

// Accepted describes a queued and charged job.
type Accepted struct {
	JobID        string
	Category     domain.Category
	Cost         int64
	BalanceAfter int64
	SubmittedAt  time.Time
}

// WorkItem is the payload handed to workers through the queue.
type WorkItem struct {
	JobID      string            `json:"job_id"`
	OwnerID    string            `json:"owner_id"`
	Category   domain.Category   `json:"category"`
	Parameters domain.Parameters `json:"parameters"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	RetryOf    string            `json:"retry_of,omitempty"`
	Attempt    int               `json:"attempt"`
}

// SubmitterConfig tunes queueing.
type SubmitterConfig struct {
	MaxRetries int
	Retention  queue.Retention
	// Priorities maps a category to its queue priority hint; lower is sooner.
	Priorities map[domain.Category]int
}

// Submitter creates job records, charges them and hands them to the queue.
type Submitter struct {
	jobs        domain.JobRepository
	admission   *Admission
	queue       queue.Queue
	compensator *Compensator
	hooks       Hooks
	emitter     *events.Emitter
	cfg         SubmitterConfig
	logger      zerolog.Logger
	newID       func() string
}

// NewSubmitter wires a Submitter. hooks may be nil.
func NewSubmitter(jobs domain.JobRepository, admission *Admission, q queue.Queue, compensator *Compensator, hooks Hooks, emitter *events.Emitter, cfg SubmitterConfig, logger zerolog.Logger) *Submitter {
	return &Submitter{
		jobs:        jobs,
		admission:   admission,
		queue:       q,
		compensator: compensator,
		hooks:       hooks,
		emitter:     emitter,
		cfg:         cfg,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// SetHooks attaches the lifecycle hooks after construction; the recovery
// engine depends on the submitter so it is wired second.
func (s *Submitter) SetHooks(h Hooks) {
	s.hooks = h
}

// Submit prices, records, charges and enqueues a job. Credits are only kept
// when the queue accepted the work; an enqueue failure is refunded before
// Submit returns.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (Accepted, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return Accepted{}, domain.Invalid("owner_id", "is required")
	}
	if !req.Category.Valid() {
		return Accepted{}, domain.Invalid("category", "unsupported category %q", req.Category)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return Accepted{}, domain.Invalid("prompt", "must be valid JSON")
	}
	cost, err := pricing.Cost(req.Category, req.Parameters)
	if err != nil {
		return Accepted{}, err
	}

	job := &domain.Job{
		ID:         s.newID(),
		OwnerID:    req.OwnerID,
		Category:   req.Category,
		Parameters: req.Parameters,
		Payload:    req.Payload,
		Cost:       cost,
		Status:     domain.JobStatusPending,
		MaxRetries: s.cfg.MaxRetries,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return Accepted{}, fmt.Errorf("%w: create job: %v", domain.ErrSubmissionFailed, err)
	}
	log := s.logger.With().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Str("category", string(job.Category)).Logger()

	balance, err := s.admission.Reserve(ctx, job.OwnerID, job.ID, cost)
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.discard(ctx, *job, log)
			return Accepted{}, insufficient
		}
		// The reservation may have committed before the error surfaced.
		log.Error().Err(err).Msg("submit: reserve failed, refunding")
		if !s.abandon(ctx, *job, err, log) {
			return Accepted{}, fmt.Errorf("%w: %w: %v", domain.ErrSubmissionFailed, domain.ErrRefundPending, err)
		}
		s.discard(ctx, *job, log)
		return Accepted{}, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}

	ref, err := s.enqueue(ctx, *job, "")
	if err != nil {
		log.Error().Err(err).Msg("submit: enqueue failed, refunding")
		if !s.abandon(ctx, *job, err, log) {
			return Accepted{}, fmt.Errorf("%w: %w: enqueue: %v", domain.ErrSubmissionFailed, domain.ErrRefundPending, err)
		}
		return Accepted{}, fmt.Errorf("%w: enqueue: %v", domain.ErrSubmissionFailed, err)
	}
	if err := s.jobs.SetQueueRef(ctx, job.ID, ref); err != nil {
		log.Warn().Err(err).Msg("submit: link queue reference failed")
	}
	job.QueueRef = ref

	if s.hooks != nil {
		s.hooks.JobSubmitted(ctx, *job)
	}
	s.emitter.Emit(domain.NewEvent(domain.EventSubmitted, *job))
	log.Info().Int64("cost", cost).Int64("balance", balance).Msg("submit: job accepted")

	return Accepted{
		JobID:        job.ID,
		Category:     job.Category,
		Cost:         cost,
		BalanceAfter: balance,
		SubmittedAt:  job.CreatedAt,
	}, nil
}

// Resubmit is the retry path. It moves a failed job back to pending with
// retry_count+1 and enqueues it under the same id without charging again.
func (s *Submitter) Resubmit(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.BeginRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("job_id", job.ID).Int("retry_count", job.RetryCount).Logger()

	if err := s.queue.Remove(ctx, job.Category, job.ID); err != nil && !errors.Is(err, queue.ErrItemNotFound) {
		log.Warn().Err(err).Msg("resubmit: remove previous queue item failed")
	}
	ref, err := s.enqueue(ctx, *job, job.ID)
	if err != nil {
		failed, terr := s.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusFailed, domain.FailureQueueUnavailable, err.Error())
		if terr != nil {
			log.Error().Err(terr).Msg("resubmit: record enqueue failure")
			return job, fmt.Errorf("%w: enqueue retry: %v", domain.ErrTransient, err)
		}
		return failed, fmt.Errorf("%w: enqueue retry: %v", domain.ErrTransient, err)
	}
	if err := s.jobs.SetQueueRef(ctx, job.ID, ref); err != nil {
		log.Warn().Err(err).Msg("resubmit: link queue reference failed")
	}
	job.QueueRef = ref
	log.Info().Msg("resubmit: job requeued")
	return job, nil
}

func (s *Submitter) enqueue(ctx context.Context, job domain.Job, retryOf string) (string, error) {
	item := WorkItem{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Category:   job.Category,
		Parameters: job.Parameters,
		Payload:    job.Payload,
		RetryOf:    retryOf,
		Attempt:    job.RetryCount + 1,
	}
	body, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode work item: %w", err)
	}
	return s.queue.Enqueue(ctx, job.Category, job.ID, body, queue.EnqueueOptions{
		Priority:  s.cfg.Priorities[job.Category],
		Retention: s.cfg.Retention,
	})
}

// discard removes a record that holds no charge.
func (s *Submitter) discard(ctx context.Context, job domain.Job, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.jobs.Delete(ctx, job.ID); err != nil {
		log.Warn().Err(err).Msg("submit: discard uncharged job failed")
	}
}

// abandon closes a job that will never run and refunds whatever it was
// charged. The record is closed first so it is terminal whatever the refund
// does; when the refund fails the job goes to the recovery hooks, which retry
// it. It reports whether the refund went through.
func (s *Submitter) abandon(ctx context.Context, job domain.Job, cause error, log zerolog.Logger) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	closed, err := s.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusFailed, domain.FailureSubmissionFailed, cause.Error())
	if err != nil {
		log.Warn().Err(err).Msg("submit: close abandoned job failed")
	} else {
		job = *closed
	}
	if _, err := s.compensator.Refund(ctx, job); err != nil {
		log.Error().Err(err).Msg("submit: compensating refund failed")
		if s.hooks != nil {
			s.hooks.JobAbandoned(ctx, job)
		}
		return false
	}
	return true
}
