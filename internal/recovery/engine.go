// Package recovery owns the per-owner job ledger that survives restarts, the
// retry scheduler and the terminal refund of jobs that do not succeed.
package recovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
	"creditjobs/internal/events"
)

// Resubmitter requeues a failed job as a retry without charging again.
type Resubmitter interface {
	Resubmit(ctx context.Context, jobID string) (*domain.Job, error)
}

// Refunder returns a job's stored cost at most once.
type Refunder interface {
	Refund(ctx context.Context, job domain.Job) (bool, error)
}

// Config tunes retries and retention.
type Config struct {
	Backoff Backoff
	// CompletedRetention is how long completed jobs stay in the ledger.
	CompletedRetention time.Duration
	// HistoryRetention is how long failed and cancelled jobs stay in the ledger.
	HistoryRetention time.Duration
	CleanupInterval  time.Duration
	// CallTimeout bounds each store call made from a timer or the cleanup loop.
	CallTimeout time.Duration
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		Backoff:            DefaultBackoff(),
		CompletedRetention: 10 * time.Minute,
		HistoryRetention:   7 * 24 * time.Hour,
		CleanupInterval:    time.Minute,
		CallTimeout:        10 * time.Second,
	}
}

type tracked struct {
	Entry
	timer *time.Timer
	// gen invalidates timers that were replaced or cancelled.
	gen uint64
	// inFlight is set while a fired retry is resubmitting.
	inFlight bool
	// saveMu serializes store writes of this entry.
	saveMu sync.Mutex
}

func (t *tracked) retryPending() bool {
	return t.timer != nil || t.inFlight
}

// Engine is the single owner of the recovery ledger and its retry timers.
// Timer handles live in the ledger entries so scheduling, firing and
// cancelling a retry update one structure under one lock.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*tracked
	owners  map[string]map[string]struct{}
	closed  bool
	firing  sync.WaitGroup

	jobs     domain.JobRepository
	resubmit Resubmitter
	refunder Refunder
	store    LedgerStore
	emitter  *events.Emitter
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. store may be nil to keep the ledger in memory only.
func NewEngine(jobs domain.JobRepository, resubmit Resubmitter, refunder Refunder, store LedgerStore, emitter *events.Emitter, cfg Config, logger zerolog.Logger) *Engine {
	if store == nil {
		store = nopStore{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Engine{
		entries:  make(map[string]*tracked),
		owners:   make(map[string]map[string]struct{}),
		jobs:     jobs,
		resubmit: resubmit,
		refunder: refunder,
		store:    store,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// JobSubmitted starts tracking an accepted job.
func (e *Engine) JobSubmitted(ctx context.Context, job domain.Job) {
	e.Track(ctx, job)
}

// JobAbandoned tracks a closed job whose refund failed on the request path.
// Cleanup finds it through NeedsRefund and retries the refund.
func (e *Engine) JobAbandoned(ctx context.Context, job domain.Job) {
	e.logger.Warn().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Msg("recovery: tracking abandoned job for refund")
	e.apply(ctx, job)
}

// JobCancelled drops any pending retry and records the cancelled state.
func (e *Engine) JobCancelled(ctx context.Context, job domain.Job) {
	e.CancelRetry(ctx, job.ID)
	e.apply(ctx, job)
}

// Track adds or refreshes a job in its owner's ledger.
func (e *Engine) Track(ctx context.Context, job domain.Job) Entry {
	return e.apply(ctx, job)
}

// ReportProgress relays a worker progress report. The first report moves the
// job from pending to processing.
func (e *Engine) ReportProgress(ctx context.Context, jobID string, pct int) error {
	e.mu.Lock()
	t, ok := e.entries[jobID]
	started := ok && t.Status == domain.JobStatusProcessing
	if ok {
		t.Progress = min(max(pct, 0), 100)
	}
	e.mu.Unlock()
	if started {
		return nil
	}

	job, err := e.jobs.Transition(ctx, jobID, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusProcessing, domain.FailureNone, "")
	if errors.Is(err, domain.ErrConflict) {
		return e.sync(ctx, jobID)
	}
	if err != nil {
		return err
	}
	e.apply(ctx, *job)
	e.emitter.Emit(domain.NewEvent(domain.EventProcessing, *job))
	return nil
}

// ReportCompleted relays a successful finish. A job that was cancelled or
// failed in the meantime keeps that outcome.
func (e *Engine) ReportCompleted(ctx context.Context, jobID string) error {
	job, err := e.jobs.Transition(ctx, jobID, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}, domain.JobStatusCompleted, domain.FailureNone, "")
	if errors.Is(err, domain.ErrConflict) {
		return e.sync(ctx, jobID)
	}
	if err != nil {
		return err
	}
	e.mu.Lock()
	if t, ok := e.entries[jobID]; ok {
		t.Progress = 100
	}
	e.mu.Unlock()
	e.apply(ctx, *job)
	e.emitter.Emit(domain.NewEvent(domain.EventCompleted, *job))
	e.logger.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Msg("recovery: job completed")
	return nil
}

// ReportFailed relays a worker failure. Retryable kinds with retries left are
// scheduled with backoff; everything else is refunded and closed.
func (e *Engine) ReportFailed(ctx context.Context, jobID string, kind domain.FailureKind, detail string) error {
	if kind == domain.FailureNone {
		kind = domain.FailureUnclassified
	}
	job, err := e.jobs.Transition(ctx, jobID, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}, domain.JobStatusFailed, kind, detail)
	if errors.Is(err, domain.ErrConflict) {
		return e.sync(ctx, jobID)
	}
	if err != nil {
		return err
	}
	e.logger.Warn().Str("job_id", job.ID).Str("reason", string(kind)).Int("retry_count", job.RetryCount).Msg("recovery: job failed")
	e.apply(ctx, *job)
	return e.afterFailure(ctx, *job)
}

func (e *Engine) afterFailure(ctx context.Context, job domain.Job) error {
	if !job.Terminal() {
		e.ScheduleRetry(ctx, job)
		return nil
	}
	return e.finalize(ctx, job, true)
}

// finalize refunds a job that ended without success. notify emits the
// terminal failure event.
func (e *Engine) finalize(ctx context.Context, job domain.Job, notify bool) error {
	if job.NeedsRefund() {
		if _, err := e.refunder.Refund(ctx, job); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("recovery: refund failed")
			return err
		}
		job.Refunded = true
	}
	e.apply(ctx, job)
	if notify && job.Status == domain.JobStatusFailed {
		e.emitter.Emit(domain.NewEvent(domain.EventFailed, job))
	}
	return nil
}

// ScheduleRetry arms the retry timer for a failed job, replacing any earlier
// timer for it, and returns the delay used.
func (e *Engine) ScheduleRetry(ctx context.Context, job domain.Job) time.Duration {
	delay := e.cfg.Backoff.Delay(job.RetryCount)
	e.scheduleAt(ctx, job, delay)
	return delay
}

func (e *Engine) scheduleAt(ctx context.Context, job domain.Job, delay time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	t := e.upsertLocked(job)
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	at := e.now().Add(delay)
	t.RetryAt = &at
	t.timer = time.AfterFunc(delay, func() { e.fire(job.ID, gen) })
	e.mu.Unlock()

	e.persist(ctx, t)
	evt := domain.NewEvent(domain.EventRetryScheduled, job)
	evt.RetryAt = &at
	e.emitter.Emit(evt)
	e.logger.Info().Str("job_id", job.ID).Int("retry_count", job.RetryCount).Dur("delay", delay).Msg("recovery: retry scheduled")
}

func (e *Engine) fire(jobID string, gen uint64) {
	e.mu.Lock()
	t, ok := e.entries[jobID]
	if !ok || e.closed || t.gen != gen || t.timer == nil {
		e.mu.Unlock()
		return
	}
	t.timer = nil
	t.RetryAt = nil
	t.inFlight = true
	snapshot := t.Entry
	e.firing.Add(1)
	e.mu.Unlock()

	defer e.firing.Done()
	defer func() {
		e.mu.Lock()
		if t, ok := e.entries[jobID]; ok {
			t.inFlight = false
		}
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	log := e.logger.With().Str("job_id", jobID).Logger()

	job, err := e.resubmit.Resubmit(ctx, jobID)
	switch {
	case err == nil:
		if en, ok := e.applyOpen(ctx, *job); ok {
			log.Info().Int("retry_count", job.RetryCount).Msg("recovery: retry submitted")
		} else {
			log.Info().Str("status", string(en.Status)).Msg("recovery: retry overtaken")
		}
	case job != nil && job.Status == domain.JobStatusFailed:
		// The retry was spent but the queue refused it.
		log.Warn().Err(err).Msg("recovery: retry enqueue failed")
		e.apply(ctx, *job)
		e.clearInFlight(jobID)
		_ = e.afterFailure(ctx, *job)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		// Cancelled or otherwise moved on while the timer was pending.
		e.clearInFlight(jobID)
		_ = e.sync(ctx, jobID)
	default:
		log.Error().Err(err).Msg("recovery: retry failed, rescheduling")
		e.clearInFlight(jobID)
		e.scheduleAt(ctx, snapshot.job(), e.cfg.Backoff.Delay(snapshot.RetryCount))
	}
}

func (e *Engine) clearInFlight(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.entries[jobID]; ok {
		t.inFlight = false
	}
}

// CancelRetry stops the pending retry timer of jobID and reports whether one
// was armed.
func (e *Engine) CancelRetry(ctx context.Context, jobID string) bool {
	e.mu.Lock()
	t, ok := e.entries[jobID]
	if !ok || t.timer == nil {
		e.mu.Unlock()
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
	t.RetryAt = nil
	e.mu.Unlock()
	e.persist(ctx, t)
	return true
}

// HasPendingRetry reports whether a retry timer is armed or firing for jobID.
func (e *Engine) HasPendingRetry(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.entries[jobID]
	return ok && t.retryPending()
}

// sync reloads the job record and repairs what the ledger missed: unrefunded
// terminal failures and failed jobs without a retry timer.
func (e *Engine) sync(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		e.forget(ctx, jobID)
		return nil
	}
	if err != nil {
		return err
	}
	e.apply(ctx, *job)
	switch {
	case job.NeedsRefund():
		return e.finalize(ctx, *job, false)
	case job.Status == domain.JobStatusFailed && !job.Terminal() && !e.HasPendingRetry(job.ID):
		e.ScheduleRetry(ctx, *job)
	}
	return nil
}

// Cleanup purges finished entries past their retention and retries refunds
// that did not go through. Entries with a pending retry are never touched.
// It returns the number of purged entries.
func (e *Engine) Cleanup(ctx context.Context, now time.Time) int {
	var purge []Entry
	var repair []string
	e.mu.Lock()
	for id, t := range e.entries {
		if t.retryPending() || t.FinishedAt == nil {
			continue
		}
		if t.job().NeedsRefund() {
			repair = append(repair, id)
			continue
		}
		age := now.Sub(*t.FinishedAt)
		switch t.Status {
		case domain.JobStatusCompleted:
			if age <= e.cfg.CompletedRetention {
				continue
			}
		case domain.JobStatusFailed, domain.JobStatusCancelled:
			if age <= e.cfg.HistoryRetention {
				continue
			}
		default:
			continue
		}
		purge = append(purge, t.Entry)
		e.removeLocked(t.Entry)
	}
	e.mu.Unlock()

	for _, en := range purge {
		if err := e.storeCall(ctx, func(ctx context.Context) error { return e.store.Delete(ctx, en.OwnerID, en.JobID) }); err != nil {
			e.logger.Warn().Err(err).Str("job_id", en.JobID).Msg("recovery: purge ledger entry")
		}
	}
	for _, id := range repair {
		if err := e.sync(ctx, id); err != nil {
			e.logger.Warn().Err(err).Str("job_id", id).Msg("recovery: refund repair")
		}
	}
	if len(purge) > 0 {
		e.logger.Debug().Int("purged", len(purge)).Msg("recovery: cleanup")
	}
	return len(purge)
}

// Rehydrate loads the persisted ledger after a restart, re-arms retry timers
// with their remaining delay and settles refunds left unfinished.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	entries, loadErr := e.store.Load(ctx)
	for _, en := range entries {
		e.mu.Lock()
		e.upsertEntryLocked(en)
		e.mu.Unlock()

		job, err := e.jobs.Get(ctx, en.JobID)
		if errors.Is(err, domain.ErrNotFound) {
			e.forget(ctx, en.JobID)
			continue
		}
		if err != nil {
			e.logger.Warn().Err(err).Str("job_id", en.JobID).Msg("recovery: rehydrate lookup")
			continue
		}
		e.apply(ctx, *job)
		switch {
		case job.NeedsRefund():
			if err := e.finalize(ctx, *job, false); err != nil {
				e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("recovery: rehydrate refund")
			}
		case job.Status == domain.JobStatusFailed && !job.Terminal():
			var delay time.Duration
			if en.RetryAt != nil {
				delay = max(en.RetryAt.Sub(e.now()), 0)
			}
			e.scheduleAt(ctx, *job, delay)
		}
	}
	if loadErr != nil {
		e.logger.Warn().Err(loadErr).Msg("recovery: ledger load incomplete")
	}
	return len(entries), loadErr
}

// History returns the owner's ledger, newest first.
func (e *Engine) History(ownerID string) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, 0, len(e.owners[ownerID]))
	for id := range e.owners[ownerID] {
		out = append(out, e.entries[id].Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackedAt.After(out[j].TrackedAt) })
	return out
}

// Lookup returns the ledger entry of jobID.
func (e *Engine) Lookup(jobID string) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.entries[jobID]
	if !ok {
		return Entry{}, false
	}
	return t.Entry, true
}

// Active returns the jobs the worker still owes a result for.
func (e *Engine) Active() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Entry
	for _, t := range e.entries {
		if t.Status.Active() && !t.retryPending() {
			out = append(out, t.Entry)
		}
	}
	return out
}

// Run purges the ledger every CleanupInterval until ctx is done, then stops
// all timers.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer e.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Cleanup(ctx, e.now())
		}
	}
}

// Close stops every timer and waits for retries already firing.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for _, t := range e.entries {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	e.mu.Unlock()
	e.firing.Wait()
}

// apply copies the record's state into the ledger and persists it.
func (e *Engine) apply(ctx context.Context, job domain.Job) Entry {
	e.mu.Lock()
	t := e.upsertLocked(job)
	en := t.Entry
	e.mu.Unlock()
	e.persist(ctx, t)
	return en
}

// applyOpen is apply for a snapshot that may predate a concurrent terminal
// transition. An entry that is already terminal is left as is and returned
// with false.
func (e *Engine) applyOpen(ctx context.Context, job domain.Job) (Entry, bool) {
	e.mu.Lock()
	if t, ok := e.entries[job.ID]; ok && t.Terminal() {
		en := t.Entry
		e.mu.Unlock()
		return en, false
	}
	t := e.upsertLocked(job)
	en := t.Entry
	e.mu.Unlock()
	e.persist(ctx, t)
	return en, true
}

func (e *Engine) upsertLocked(job domain.Job) *tracked {
	now := e.now()
	t, ok := e.entries[job.ID]
	if !ok {
		t = &tracked{Entry: Entry{TrackedAt: now}}
		e.entries[job.ID] = t
		e.indexLocked(job.OwnerID, job.ID)
	}
	t.JobID = job.ID
	t.OwnerID = job.OwnerID
	t.Category = job.Category
	t.Status = job.Status
	t.Cost = job.Cost
	t.RetryCount = job.RetryCount
	t.MaxRetries = job.MaxRetries
	t.FailureReason = job.FailureReason
	t.Refunded = t.Refunded || job.Refunded
	if job.Status == domain.JobStatusCompleted {
		t.Progress = 100
	}
	switch {
	case job.Terminal() && t.FinishedAt == nil:
		t.FinishedAt = &now
	case !job.Terminal():
		t.FinishedAt = nil
	}
	if t.timer == nil {
		t.RetryAt = nil
	}
	return t
}

func (e *Engine) upsertEntryLocked(en Entry) {
	if _, ok := e.entries[en.JobID]; ok {
		return
	}
	e.entries[en.JobID] = &tracked{Entry: en}
	e.indexLocked(en.OwnerID, en.JobID)
}

func (e *Engine) indexLocked(ownerID, jobID string) {
	ids, ok := e.owners[ownerID]
	if !ok {
		ids = make(map[string]struct{})
		e.owners[ownerID] = ids
	}
	ids[jobID] = struct{}{}
}

func (e *Engine) removeLocked(en Entry) {
	if t, ok := e.entries[en.JobID]; ok && t.timer != nil {
		t.timer.Stop()
	}
	delete(e.entries, en.JobID)
	if ids, ok := e.owners[en.OwnerID]; ok {
		delete(ids, en.JobID)
		if len(ids) == 0 {
			delete(e.owners, en.OwnerID)
		}
	}
}

func (e *Engine) forget(ctx context.Context, jobID string) {
	e.mu.Lock()
	t, ok := e.entries[jobID]
	if !ok {
		e.mu.Unlock()
		return
	}
	en := t.Entry
	e.removeLocked(en)
	e.mu.Unlock()
	if err := e.storeCall(ctx, func(ctx context.Context) error { return e.store.Delete(ctx, en.OwnerID, en.JobID) }); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("recovery: forget ledger entry")
	}
}

// persist saves the entry as it stands when the write starts. Writes of one
// entry are serialized, so the store never ends on an older state than the
// ledger holds.
func (e *Engine) persist(ctx context.Context, t *tracked) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	e.mu.Lock()
	current := e.entries[t.JobID] == t
	en := t.Entry
	e.mu.Unlock()
	if !current {
		return
	}
	if err := e.storeCall(ctx, func(ctx context.Context) error { return e.store.Save(ctx, en) }); err != nil {
		e.logger.Warn().Err(err).Str("job_id", en.JobID).Msg("recovery: persist ledger entry")
	}
}

// storeCall runs fn detached from the caller's cancellation with CallTimeout.
func (e *Engine) storeCall(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}
