// Package events fans committed sale state changes out to subscribers such as
// receipt and alert dispatchers.
package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"stationpos/backend/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.SaleEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.SaleEvent) error {
	return nil
}

// RedisPublisher publishes JSON encoded events on a pub/sub channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	if channel == "" {
		channel = "stationpos:sales"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
