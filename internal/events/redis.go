package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/models"
)

// RedisBus fans events out over Redis pub/sub. Delivery is best effort:
// subscribers that are down miss events.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

func NewRedisBus(client *redis.Client, channel string, log logrus.FieldLogger) *RedisBus {
	return &RedisBus{client: client, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, ev models.InvalidationEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handle Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.log.WithField("channel", b.channel).Info("Subscribed to episode changes")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				b.log.WithError(err).Warn("Dropping malformed event")
				continue
			}
			handle(ctx, ev)
		}
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBus) Close() error { return nil }
