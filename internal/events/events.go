// Package events delivers job lifecycle notifications. Delivery is best-effort:
// failures are logged and never reach the caller.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
)

// Notifier delivers one event.
type Notifier interface {
	Notify(ctx context.Context, evt domain.LifecycleEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt domain.LifecycleEvent) error

func (f NotifierFunc) Notify(ctx context.Context, evt domain.LifecycleEvent) error {
	return f(ctx, evt)
}

// Multi fans an event out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt domain.LifecycleEvent) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Emitter sends events in the background with a bounded timeout.
type Emitter struct {
	notifier Notifier
	logger   zerolog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewEmitter wraps notifier. A nil notifier discards events.
func NewEmitter(notifier Notifier, logger zerolog.Logger, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Emitter{notifier: notifier, logger: logger, timeout: timeout}
}

// Emit schedules delivery and returns immediately.
func (e *Emitter) Emit(evt domain.LifecycleEvent) {
	if e == nil || e.notifier == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, evt); err != nil {
			e.logger.Warn().Err(err).
				Str("event", string(evt.Type)).
				Str("job_id", evt.JobID).
				Msg("events: delivery failed")
		}
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (e *Emitter) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, evt domain.LifecycleEvent) error {
	n.Logger.Info().
		Str("event", string(evt.Type)).
		Str("job_id", evt.JobID).
		Str("owner_id", evt.OwnerID).
		Str("category", string(evt.Category)).
		Str("status", string(evt.Status)).
		Str("reason", string(evt.Reason)).
		Int("retry_count", evt.RetryCount).
		Msg("job lifecycle")
	return nil
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (r *Recorder) Notify(_ context.Context, evt domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LifecycleEvent(nil), r.events...)
}

// Count returns how many events of type t were recorded for jobID.
func (r *Recorder) Count(t domain.EventType, jobID string) int {
	n := 0
	for _, evt := range r.Events() {
		if evt.Type == t && evt.JobID == jobID {
			n++
		}
	}
	return n
}
