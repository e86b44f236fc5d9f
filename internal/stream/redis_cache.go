package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"hostmetrics-agent/internal/model"
)

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Hostname  string
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache keeps the latest record and the latest alert batch per host.
type RedisCache struct {
	logger *slog.Logger
	client redis.Cmdable
	closer func() error
	opts   RedisOptions
}

func NewRedisCache(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return newRedisCache(client, client.Close, opts, logger), nil
}

func newRedisCache(client redis.Cmdable, closer func() error, opts RedisOptions, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		logger: logger.With("sink", "redis"),
		client: client,
		closer: closer,
		opts:   opts,
	}
}

func (c *RedisCache) LatestKey() string {
	return c.opts.KeyPrefix + "latest:" + c.opts.Hostname
}

func (c *RedisCache) AlertsKey() string {
	return c.opts.KeyPrefix + "alerts:" + c.opts.Hostname
}

func (c *RedisCache) SendRecord(ctx context.Context, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := c.client.Set(ctx, c.LatestKey(), data, c.opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.LatestKey(), err)
	}
	return nil
}

func (c *RedisCache) SendAlerts(ctx context.Context, events []model.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := c.client.Set(ctx, c.AlertsKey(), data, c.opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.AlertsKey(), err)
	}
	return nil
}

func (c *RedisCache) Close(_ context.Context) error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
