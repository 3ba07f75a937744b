package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stationpos/backend/internal/domain"
)

const programKeyPrefix = "stationpos:loyalty-program:"

type RedisProgramCache struct {
	client redis.Cmdable
}

func NewRedisProgramCache(client redis.Cmdable) *RedisProgramCache {
	return &RedisProgramCache{client: client}
}

func (c *RedisProgramCache) Get(ctx context.Context, organizationID string) (*domain.LoyaltyProgram, bool, error) {
	val, err := c.client.Get(ctx, programKeyPrefix+organizationID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var program domain.LoyaltyProgram
	if err := json.Unmarshal([]byte(val), &program); err != nil {
		return nil, false, err
	}
	return &program, true, nil
}

func (c *RedisProgramCache) Set(ctx context.Context, value domain.LoyaltyProgram, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, programKeyPrefix+value.OrganizationID, payload, ttl).Err()
}

func (c *RedisProgramCache) Delete(ctx context.Context, organizationID string) error {
	return c.client.Del(ctx, programKeyPrefix+organizationID).Err()
}

// NewRedisClient opens a client and verifies it with PING.
func NewRedisClient(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
