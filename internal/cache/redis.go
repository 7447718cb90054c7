package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"match-predictor/internal/prediction"

	"github.com/redis/go-redis/v9"
)

// Redis shares cached predictions between service instances.
type Redis struct {
	client  *redis.Client
	horizon time.Duration
	now     func() time.Time
}

// NewRedis parses a redis:// URL and verifies the server is reachable.
func NewRedis(ctx context.Context, url string, horizon time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, horizon), nil
}

func NewRedisWithClient(client *redis.Client, horizon time.Duration) *Redis {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Redis{client: client, horizon: horizon, now: time.Now}
}

func (c *Redis) Get(ctx context.Context, key prediction.Key) (*prediction.Prediction, bool, error) {
	data, err := c.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var p prediction.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached prediction %s: %w", key, err)
	}
	return &p, true, nil
}

func (c *Redis) Set(ctx context.Context, p *prediction.Prediction) error {
	ttl := TTL(p, c.horizon, c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prediction: %w", err)
	}
	if err := c.client.Set(ctx, Key(p.Key()), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", p.Key(), err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, key prediction.Key) error {
	return c.client.Del(ctx, Key(key)).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}
