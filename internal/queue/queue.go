// Package queue is the per-category work queue consumed by generation workers.
// Items share their id with the job record so either side can resolve the
// other without a mapping table.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"creditjobs/internal/domain"
)

var (
	ErrItemNotFound = errors.New("queue: item not found")
	ErrItemExists   = errors.New("queue: item already exists")
	// ErrItemLocked is returned when removing an item a worker already claimed.
	ErrItemLocked = errors.New("queue: item is active")
	// ErrItemState is returned when the item is not in a state the operation accepts.
	ErrItemState = errors.New("queue: invalid item state")
	ErrEmpty     = errors.New("queue: no item available")
)

// State is the queue-side view of an item.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the worker is done with the item.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Retention bounds how long finished items are kept.
type Retention struct {
	Completed time.Duration
	Failed    time.Duration
}

// EnqueueOptions configures a single enqueue.
type EnqueueOptions struct {
	// Priority orders waiting items; lower values are claimed first.
	Priority  int
	Retention Retention
}

// Item is a queued unit of work as seen by the queue.
type Item struct {
	ID            string
	Category      domain.Category
	Payload       json.RawMessage
	State         State
	Progress      int
	Result        json.RawMessage
	FailureKind   string
	FailureDetail string
	Priority      int
	Attempts      int
	EnqueuedAt    time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Queue is the transport between the submitter and the workers.
type Queue interface {
	// Enqueue adds a waiting item and returns its queue reference.
	Enqueue(ctx context.Context, category domain.Category, id string, payload json.RawMessage, opts EnqueueOptions) (string, error)
	Get(ctx context.Context, category domain.Category, id string) (*Item, error)
	State(ctx context.Context, category domain.Category, id string) (State, error)
	// Remove deletes a waiting or finished item. Active items return ErrItemLocked.
	Remove(ctx context.Context, category domain.Category, id string) error
	MoveToFailed(ctx context.Context, category domain.Category, id string, kind domain.FailureKind, detail string) error

	// Worker side.
	Claim(ctx context.Context, category domain.Category) (*Item, error)
	Progress(ctx context.Context, category domain.Category, id string, pct int) error
	Complete(ctx context.Context, category domain.Category, id string, result json.RawMessage) error
}
