package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis fans invalidations out over a Redis pub/sub channel. Delivery is
// at-most-once; waiters re-read durable state on every poll, so a lost
// message costs at most one poll cycle.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis returns a bus publishing on channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Publish(ctx context.Context, sessionID string) error {
	if err := r.client.Publish(ctx, r.channel, sessionID).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, handle Handler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if msg.Payload != "" {
				handle(msg.Payload)
			}
		}
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *Redis) Close() error { return nil }
