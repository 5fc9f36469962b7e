package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"creditjobs/internal/domain"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "test:queue"), mr
}

func TestRedisQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	ref, err := q.Enqueue(ctx, domain.CategoryImage, "job-1", json.RawMessage(`{"prompt":"cat"}`), EnqueueOptions{
		Priority:  1,
		Retention: Retention{Completed: time.Minute, Failed: time.Hour},
	})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if ref != "test:queue:image:item:job-1" {
		t.Fatalf("ref = %q", ref)
	}
	if _, err := q.Enqueue(ctx, domain.CategoryImage, "job-1", nil, EnqueueOptions{}); !errors.Is(err, ErrItemExists) {
		t.Fatalf("duplicate enqueue error = %v, want ErrItemExists", err)
	}

	state, err := q.State(ctx, domain.CategoryImage, "job-1")
	if err != nil || state != StateWaiting {
		t.Fatalf("State = %q, %v", state, err)
	}

	item, err := q.Claim(ctx, domain.CategoryImage)
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if item.ID != "job-1" || item.State != StateActive || item.Attempts != 1 {
		t.Fatalf("claimed item = %+v", item)
	}
	if string(item.Payload) != `{"prompt":"cat"}` {
		t.Fatalf("payload = %s", item.Payload)
	}

	if err := q.Remove(ctx, domain.CategoryImage, "job-1"); !errors.Is(err, ErrItemLocked) {
		t.Fatalf("Remove active error = %v, want ErrItemLocked", err)
	}
	if err := q.Progress(ctx, domain.CategoryImage, "job-1", 40); err != nil {
		t.Fatalf("Progress returned error: %v", err)
	}
	if err := q.Complete(ctx, domain.CategoryImage, "job-1", json.RawMessage(`{"url":"x"}`)); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	item, err = q.Get(ctx, domain.CategoryImage, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if item.State != StateCompleted || item.Progress != 100 || string(item.Result) != `{"url":"x"}` {
		t.Fatalf("completed item = %+v", item)
	}
	if err := q.MoveToFailed(ctx, domain.CategoryImage, "job-1", domain.FailureNetwork, "late"); !errors.Is(err, ErrItemState) {
		t.Fatalf("MoveToFailed on completed error = %v, want ErrItemState", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := q.Get(ctx, domain.CategoryImage, "job-1"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("completed item should expire, got %v", err)
	}
}

func TestRedisQueueClaimOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if _, err := q.Enqueue(ctx, domain.CategoryVideo, "low", nil, EnqueueOptions{Priority: 5}); err != nil {
		t.Fatalf("Enqueue low: %v", err)
	}
	if _, err := q.Enqueue(ctx, domain.CategoryVideo, "high", nil, EnqueueOptions{Priority: 1}); err != nil {
		t.Fatalf("Enqueue high: %v", err)
	}
	first, err := q.Claim(ctx, domain.CategoryVideo)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if first.ID != "high" {
		t.Fatalf("first claimed = %s, want high", first.ID)
	}
	second, err := q.Claim(ctx, domain.CategoryVideo)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if second.ID != "low" {
		t.Fatalf("second claimed = %s, want low", second.ID)
	}
	if _, err := q.Claim(ctx, domain.CategoryVideo); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Claim on empty queue error = %v, want ErrEmpty", err)
	}
}

func TestRedisQueueRemoveWaiting(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if _, err := q.Enqueue(ctx, domain.CategoryTraining, "job-2", nil, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Remove(ctx, domain.CategoryTraining, "job-2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := q.Claim(ctx, domain.CategoryTraining); !errors.Is(err, ErrEmpty) {
		t.Fatalf("removed item still claimable: %v", err)
	}
	if err := q.Remove(ctx, domain.CategoryTraining, "job-2"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("second Remove error = %v, want ErrItemNotFound", err)
	}
}

func TestRedisQueueMoveToFailed(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	if _, err := q.Enqueue(ctx, domain.CategoryImage, "job-3", nil, EnqueueOptions{Retention: Retention{Failed: time.Hour}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.MoveToFailed(ctx, domain.CategoryImage, "job-3", domain.FailureUserCancelled, "stop"); err != nil {
		t.Fatalf("MoveToFailed: %v", err)
	}
	item, err := q.Get(ctx, domain.CategoryImage, "job-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.State != StateFailed || item.FailureKind != string(domain.FailureUserCancelled) || item.FailureDetail != "stop" {
		t.Fatalf("failed item = %+v", item)
	}
	if _, err := q.Claim(ctx, domain.CategoryImage); !errors.Is(err, ErrEmpty) {
		t.Fatalf("failed item still claimable: %v", err)
	}
	if ttl := mr.TTL("test:queue:image:item:job-3"); ttl != time.Hour {
		t.Fatalf("failed retention ttl = %v, want 1h", ttl)
	}
	if err := q.Progress(ctx, domain.CategoryImage, "job-3", 10); !errors.Is(err, ErrItemState) {
		t.Fatalf("Progress on failed item error = %v", err)
	}
}
