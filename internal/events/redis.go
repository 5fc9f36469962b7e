package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"creditjobs/internal/domain"
)

// DefaultChannelPrefix is the Pub/Sub channel namespace; events go to
// <prefix>:<owner id>.
const DefaultChannelPrefix = "creditjobs:events"

// RedisPublisher publishes events on a per-owner Pub/Sub channel.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher creates a publisher. The caller owns the client lifecycle.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel events for ownerID are published on.
func (p *RedisPublisher) Channel(ownerID string) string {
	return p.prefix + ":" + ownerID
}

func (p *RedisPublisher) Notify(ctx context.Context, evt domain.LifecycleEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(evt.OwnerID), body).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

var _ Notifier = (*RedisPublisher)(nil)
