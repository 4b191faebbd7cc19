// Package state persists the reporting gate in Redis.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/removalhq/broker-protection-backend/internal/domain/errors"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/config"
)

const lastWeeklyPixelKey = "dbp:report:last_weekly_pixel"

// RedisStateStore keeps the timestamp of the last fired weekly pixel. The
// value has no TTL; it is overwritten on every successful report run.
type RedisStateStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStateStore connects to Redis and verifies the connection.
func NewRedisStateStore(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*RedisStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis state store connected", zap.String("addr", cfg.URL))
	return &RedisStateStore{client: client, logger: logger}, nil
}

// NewRedisStateStoreWithClient wraps an existing client; used by tests.
func NewRedisStateStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisStateStore {
	return &RedisStateStore{client: client, logger: logger}
}

// LastWeeklyPixel returns when the weekly pixel last fired, or nil if it
// never has.
func (s *RedisStateStore) LastWeeklyPixel(ctx context.Context) (*time.Time, error) {
	val, err := s.client.Get(ctx, lastWeeklyPixelKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("read_last_weekly_pixel", err.Error()).WithCause(err)
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		// A corrupt value behaves like a missing one so reporting recovers
		// on the next run.
		s.logger.Warn("discarding corrupt weekly pixel timestamp",
			zap.String("value", val), zap.Error(err))
		return nil, nil
	}
	return &t, nil
}

// MarkWeeklyPixelSent records the given time as the last weekly pixel.
func (s *RedisStateStore) MarkWeeklyPixelSent(ctx context.Context, at time.Time) error {
	if err := s.client.Set(ctx, lastWeeklyPixelKey, at.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return errors.NewStorageError("write_last_weekly_pixel", err.Error()).WithCause(err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
