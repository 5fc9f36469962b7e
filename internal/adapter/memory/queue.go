package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"creditjobs/internal/domain"
	"creditjobs/internal/queue"
)

type queuedItem struct {
	item      queue.Item
	retention queue.Retention
	seq       int64
}

// Queue implements queue.Queue with per-category maps. Finished items expire
// lazily according to their retention.
type Queue struct {
	mu    sync.Mutex
	items map[domain.Category]map[string]*queuedItem
	seq   int64
	now   func() time.Time
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		items: make(map[domain.Category]map[string]*queuedItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) Enqueue(_ context.Context, category domain.Category, id string, payload json.RawMessage, opts queue.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	bucket := q.bucket(category)
	if _, ok := q.lookup(category, id); ok {
		return "", queue.ErrItemExists
	}
	q.seq++
	bucket[id] = &queuedItem{
		item: queue.Item{
			ID:         id,
			Category:   category,
			Payload:    append(json.RawMessage(nil), payload...),
			State:      queue.StateWaiting,
			Priority:   opts.Priority,
			EnqueuedAt: q.now(),
		},
		retention: opts.Retention,
		seq:       q.seq,
	}
	return string(category) + ":" + id, nil
}

func (q *Queue) Get(_ context.Context, category domain.Category, id string) (*queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	qi, ok := q.lookup(category, id)
	if !ok {
		return nil, queue.ErrItemNotFound
	}
	cp := qi.item
	return &cp, nil
}

func (q *Queue) State(ctx context.Context, category domain.Category, id string) (queue.State, error) {
	item, err := q.Get(ctx, category, id)
	if err != nil {
		return "", err
	}
	return item.State, nil
}

func (q *Queue) Remove(_ context.Context, category domain.Category, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qi, ok := q.lookup(category, id)
	if !ok {
		return queue.ErrItemNotFound
	}
	if qi.item.State == queue.StateActive {
		return queue.ErrItemLocked
	}
	delete(q.items[category], id)
	return nil
}

func (q *Queue) MoveToFailed(_ context.Context, category domain.Category, id string, kind domain.FailureKind, detail string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qi, ok := q.lookup(category, id)
	if !ok {
		return queue.ErrItemNotFound
	}
	if qi.item.State.Terminal() {
		return queue.ErrItemState
	}
	qi.item.State = queue.StateFailed
	qi.item.FailureKind = string(kind)
	qi.item.FailureDetail = detail
	qi.item.FinishedAt = q.now()
	return nil
}

func (q *Queue) Claim(_ context.Context, category domain.Category) (*queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var waiting []*queuedItem
	for id := range q.items[category] {
		if qi, ok := q.lookup(category, id); ok && qi.item.State == queue.StateWaiting {
			waiting = append(waiting, qi)
		}
	}
	if len(waiting) == 0 {
		return nil, queue.ErrEmpty
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].item.Priority != waiting[j].item.Priority {
			return waiting[i].item.Priority < waiting[j].item.Priority
		}
		return waiting[i].seq < waiting[j].seq
	})
	qi := waiting[0]
	qi.item.State = queue.StateActive
	qi.item.Attempts++
	qi.item.StartedAt = q.now()
	cp := qi.item
	return &cp, nil
}

func (q *Queue) Progress(_ context.Context, category domain.Category, id string, pct int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qi, ok := q.lookup(category, id)
	if !ok {
		return queue.ErrItemNotFound
	}
	if qi.item.State != queue.StateActive {
		return queue.ErrItemState
	}
	qi.item.Progress = min(max(pct, 0), 100)
	return nil
}

func (q *Queue) Complete(_ context.Context, category domain.Category, id string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qi, ok := q.lookup(category, id)
	if !ok {
		return queue.ErrItemNotFound
	}
	if qi.item.State != queue.StateActive {
		return queue.ErrItemState
	}
	qi.item.State = queue.StateCompleted
	qi.item.Progress = 100
	qi.item.Result = append(json.RawMessage(nil), result...)
	qi.item.FinishedAt = q.now()
	return nil
}

func (q *Queue) bucket(category domain.Category) map[string]*queuedItem {
	b, ok := q.items[category]
	if !ok {
		b = make(map[string]*queuedItem)
		q.items[category] = b
	}
	return b
}

// lookup returns the item, dropping it first when its retention has elapsed.
func (q *Queue) lookup(category domain.Category, id string) (*queuedItem, bool) {
	qi, ok := q.items[category][id]
	if !ok {
		return nil, false
	}
	var keep time.Duration
	switch qi.item.State {
	case queue.StateCompleted:
		keep = qi.retention.Completed
	case queue.StateFailed:
		keep = qi.retention.Failed
	}
	if keep > 0 && q.now().Sub(qi.item.FinishedAt) > keep {
		delete(q.items[category], id)
		return nil, false
	}
	return qi, true
}

var _ queue.Queue = (*Queue)(nil)
