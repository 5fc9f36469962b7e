package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"creditjobs/internal/domain"
)

func TestRedisLedgerStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisLedgerStore(client, "")

	retryAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	entries := []Entry{
		{JobID: "j1", OwnerID: "alice", Category: domain.CategoryImage, Status: domain.JobStatusFailed, Cost: 3, RetryCount: 1, MaxRetries: 3, FailureReason: domain.FailureNetwork, RetryAt: &retryAt},
		{JobID: "j2", OwnerID: "alice", Category: domain.CategoryVideo, Status: domain.JobStatusPending, Cost: 8},
		{JobID: "j3", OwnerID: "bob", Category: domain.CategoryTraining, Status: domain.JobStatusCompleted, Cost: 15},
	}
	for _, en := range entries {
		if err := store.Save(ctx, en); err != nil {
			t.Fatalf("save %s: %v", en.JobID, err)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d entries, want 3", len(loaded))
	}
	alice, err := store.Entries(ctx, "alice")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	var j1 Entry
	for _, en := range alice {
		if en.JobID == "j1" {
			j1 = en
		}
	}
	if j1.RetryAt == nil || !j1.RetryAt.Equal(retryAt) || j1.FailureReason != domain.FailureNetwork {
		t.Fatalf("j1 = %+v", j1)
	}

	if err := store.Delete(ctx, "bob", "j3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := client.SIsMember(ctx, DefaultLedgerPrefix+":owners", "bob").Result(); ok {
		t.Fatalf("owner without entries still indexed")
	}
	if ok, _ := client.SIsMember(ctx, DefaultLedgerPrefix+":owners", "alice").Result(); !ok {
		t.Fatalf("owner with entries dropped")
	}
}

func TestRedisLedgerStoreSkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisLedgerStore(client, "t")

	if err := store.Save(ctx, Entry{JobID: "ok", OwnerID: "alice"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.HSet("t:ledger:alice", "broken", "{not json")

	loaded, err := store.Load(ctx)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if len(loaded) != 1 || loaded[0].JobID != "ok" {
		t.Fatalf("loaded = %+v", loaded)
	}
}
