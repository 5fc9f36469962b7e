package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"creditjobs/internal/domain"
	"creditjobs/internal/jobs"
	"creditjobs/internal/queue"
)

// StatusSource resolves a job id to its normalized status.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (jobs.Status, error)
}

// PollerConfig tunes the status poller.
type PollerConfig struct {
	Interval    time.Duration
	Concurrency int
	// MissingGrace is how long an active record may go without a queue item
	// before it is reported as lost.
	MissingGrace time.Duration
	// CallTimeout bounds one status lookup.
	CallTimeout time.Duration
}

// Poller relays queue-side progress into the Engine for every job it tracks
// as pending or processing.
type Poller struct {
	engine *Engine
	source StatusSource
	cfg    PollerConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(engine *Engine, source StatusSource, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MissingGrace <= 0 {
		cfg.MissingGrace = time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Poller{
		engine: engine,
		source: source,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run polls every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("recovery: poll")
			}
		}
	}
}

// Poll checks every active job once. Lookups are read-only and run with
// bounded concurrency; a failing lookup does not stop the others.
func (p *Poller) Poll(ctx context.Context) error {
	active := p.engine.Active()
	if len(active) == 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	errs := make([]error, len(active))
	for i, en := range active {
		g.Go(func() error {
			errs[i] = p.pollOne(ctx, en)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Poller) pollOne(ctx context.Context, en Entry) error {
	lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	st, err := p.source.Status(lookupCtx, en.JobID)
	cancel()
	if errors.Is(err, domain.ErrNotFound) {
		return p.engine.sync(ctx, en.JobID)
	}
	if err != nil {
		return err
	}

	if st.FromRecord {
		switch st.State {
		case queue.StateWaiting, queue.StateActive:
			// The record is still active but no queue holds the item.
			if p.now().Sub(st.UpdatedAt) < p.cfg.MissingGrace {
				return nil
			}
			p.logger.Warn().Str("job_id", en.JobID).Msg("recovery: queue item lost")
			return p.engine.ReportFailed(ctx, en.JobID, domain.FailureQueueUnavailable, "queue item missing")
		default:
			return p.engine.sync(ctx, en.JobID)
		}
	}

	switch st.State {
	case queue.StateActive:
		return p.engine.ReportProgress(ctx, en.JobID, st.Progress)
	case queue.StateCompleted:
		return p.engine.ReportCompleted(ctx, en.JobID)
	case queue.StateFailed:
		return p.engine.ReportFailed(ctx, en.JobID, st.Failure, st.Error)
	}
	return nil
}
