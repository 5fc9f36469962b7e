package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"creditjobs/internal/domain"
)

// priorityWeight separates priority bands in the waiting set score; within a
// band items are ordered by enqueue time in milliseconds.
const priorityWeight = 1e13

var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'category', ARGV[2], 'payload', ARGV[3], 'state', 'waiting',
  'progress', '0', 'priority', ARGV[4], 'attempts', '0',
  'keep_completed', ARGV[5], 'keep_failed', ARGV[6], 'enqueued_at', ARGV[7])
redis.call('ZADD', KEYS[2], ARGV[8], ARGV[1])
return 1
`)

var claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
local key = ARGV[1] .. id
if redis.call('EXISTS', key) == 0 then
  return false
end
redis.call('HSET', key, 'state', 'active', 'started_at', ARGV[2])
redis.call('HINCRBY', key, 'attempts', 1)
return id
`)

var removeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state == 'active' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

var failScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state == 'completed' or state == 'failed' then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'failed', 'failure_kind', ARGV[2], 'failure_detail', ARGV[3], 'finished_at', ARGV[4])
local keep = tonumber(redis.call('HGET', KEYS[1], 'keep_failed') or '0')
if keep and keep > 0 then
  redis.call('PEXPIRE', KEYS[1], keep)
end
return 1
`)

var completeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state ~= 'active' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'completed', 'progress', '100', 'result', ARGV[1], 'finished_at', ARGV[2])
local keep = tonumber(redis.call('HGET', KEYS[1], 'keep_completed') or '0')
if keep and keep > 0 then
  redis.call('PEXPIRE', KEYS[1], keep)
end
return 1
`)

var progressScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state ~= 'active' then
  return 0
end
redis.call('HSET', KEYS[1], 'progress', ARGV[1])
return 1
`)

// RedisQueue stores each item as a Hash and orders waiting items per category
// in a Sorted Set. State changes run as Lua scripts so they are atomic.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisQueue creates a queue under the given key prefix. The caller owns the
// client lifecycle.
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) Enqueue(ctx context.Context, category domain.Category, id string, payload json.RawMessage, opts EnqueueOptions) (string, error) {
	if id == "" {
		return "", errors.New("queue: id is required")
	}
	now := time.Now().UTC()
	score := float64(opts.Priority)*priorityWeight + float64(now.UnixMilli())
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	res, err := enqueueScript.Run(ctx, q.client,
		[]string{q.itemKey(category, id), q.waitingKey(category)},
		id,
		string(category),
		string(payload),
		opts.Priority,
		opts.Retention.Completed.Milliseconds(),
		opts.Retention.Failed.Milliseconds(),
		now.UnixMilli(),
		score,
	).Int()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", id, err)
	}
	if res == 0 {
		return "", ErrItemExists
	}
	return q.itemKey(category, id), nil
}

func (q *RedisQueue) Get(ctx context.Context, category domain.Category, id string) (*Item, error) {
	fields, err := q.client.HGetAll(ctx, q.itemKey(category, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrItemNotFound
	}
	return itemFromMap(fields), nil
}

func (q *RedisQueue) State(ctx context.Context, category domain.Category, id string) (State, error) {
	state, err := q.client.HGet(ctx, q.itemKey(category, id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("queue: state %s: %w", id, err)
	}
	return State(state), nil
}

func (q *RedisQueue) Remove(ctx context.Context, category domain.Category, id string) error {
	res, err := removeScript.Run(ctx, q.client,
		[]string{q.itemKey(category, id), q.waitingKey(category)}, id).Int()
	if err != nil {
		return fmt.Errorf("queue: remove %s: %w", id, err)
	}
	return scriptResult(res, ErrItemLocked)
}

func (q *RedisQueue) MoveToFailed(ctx context.Context, category domain.Category, id string, kind domain.FailureKind, detail string) error {
	res, err := failScript.Run(ctx, q.client,
		[]string{q.itemKey(category, id), q.waitingKey(category)},
		id, string(kind), detail, time.Now().UTC().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("queue: fail %s: %w", id, err)
	}
	return scriptResult(res, ErrItemState)
}

func (q *RedisQueue) Claim(ctx context.Context, category domain.Category) (*Item, error) {
	id, err := claimScript.Run(ctx, q.client,
		[]string{q.waitingKey(category)},
		q.itemKeyPrefix(category), time.Now().UTC().UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", category, err)
	}
	return q.Get(ctx, category, id)
}

func (q *RedisQueue) Progress(ctx context.Context, category domain.Category, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	res, err := progressScript.Run(ctx, q.client, []string{q.itemKey(category, id)}, pct).Int()
	if err != nil {
		return fmt.Errorf("queue: progress %s: %w", id, err)
	}
	return scriptResult(res, ErrItemState)
}

func (q *RedisQueue) Complete(ctx context.Context, category domain.Category, id string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	res, err := completeScript.Run(ctx, q.client,
		[]string{q.itemKey(category, id)}, string(result), time.Now().UTC().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", id, err)
	}
	return scriptResult(res, ErrItemState)
}

func scriptResult(res int, onZero error) error {
	switch res {
	case -1:
		return ErrItemNotFound
	case 0:
		return onZero
	}
	return nil
}

func itemFromMap(m map[string]string) *Item {
	item := &Item{
		ID:            m["id"],
		Category:      domain.Category(m["category"]),
		State:         State(m["state"]),
		FailureKind:   m["failure_kind"],
		FailureDetail: m["failure_detail"],
		Progress:      atoi(m["progress"]),
		Priority:      atoi(m["priority"]),
		Attempts:      atoi(m["attempts"]),
		EnqueuedAt:    millis(m["enqueued_at"]),
		StartedAt:     millis(m["started_at"]),
		FinishedAt:    millis(m["finished_at"]),
	}
	if p := m["payload"]; p != "" {
		item.Payload = json.RawMessage(p)
	}
	if r := m["result"]; r != "" {
		item.Result = json.RawMessage(r)
	}
	return item
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func millis(s string) time.Time {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

var _ Queue = (*RedisQueue)(nil)
