package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
)

func TestEmitterDeliversInBackground(t *testing.T) {
	rec := &Recorder{}
	failing := NotifierFunc(func(context.Context, domain.LifecycleEvent) error {
		return errors.New("down")
	})
	em := NewEmitter(Multi{failing, rec}, zerolog.Nop(), time.Second)

	em.Emit(domain.LifecycleEvent{Type: domain.EventCompleted, JobID: "job-1"})
	em.Emit(domain.LifecycleEvent{Type: domain.EventRefunded, JobID: "job-1"})
	em.Wait()

	if got := rec.Count(domain.EventCompleted, "job-1"); got != 1 {
		t.Fatalf("completed events = %d, want 1", got)
	}
	if got := len(rec.Events()); got != 2 {
		t.Fatalf("events = %d, want 2", got)
	}
}

func TestNilEmitterIsNoop(t *testing.T) {
	var em *Emitter
	em.Emit(domain.LifecycleEvent{Type: domain.EventFailed})
	em.Wait()
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := NewRedisPublisher(client, "")
	sub := client.Subscribe(ctx, pub.Channel("owner-1"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt := domain.LifecycleEvent{Type: domain.EventCancelled, JobID: "job-9", OwnerID: "owner-1", Category: domain.CategoryVideo}
	if err := pub.Notify(ctx, evt); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got domain.LifecycleEvent
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.JobID != "job-9" || got.Type != domain.EventCancelled {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}
