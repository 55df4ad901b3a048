package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"inbound-forecaster/pkg/forecast"
)

const (
	DefaultChannel   = "reservecast:forecast"
	DefaultLatestKey = "reservecast:forecast:latest"
)

// Redis publishes the result as JSON and keeps the latest copy under a key.
type Redis struct {
	client    *redis.Client
	channel   string
	latestKey string
}

// NewRedis parses a redis:// URL and pings the server.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, channel: DefaultChannel, latestKey: DefaultLatestKey}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Write(ctx context.Context, res *forecast.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := r.client.Set(ctx, r.latestKey, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.latestKey, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
