package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "portfolio:session:"

// RedisBackend stores each session as a Redis hash with a TTL, so several
// server instances can share sessions
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects to redisURL and verifies the connection
func NewRedisBackend(ctx context.Context, redisURL string, ttl time.Duration) (*RedisBackend, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

func (b *RedisBackend) key(id string) string {
	return redisPrefix + id
}

// Get reads a field and slides the expiry
func (b *RedisBackend) Get(ctx context.Context, id, key string) (string, bool, error) {
	if id == "" {
		return "", false, ErrNoSession
	}

	v, err := b.client.HGet(ctx, b.key(id), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}

	b.client.Expire(ctx, b.key(id), b.ttl)
	return v, true, nil
}

// Set writes a field and refreshes the expiry in one round trip
func (b *RedisBackend) Set(ctx context.Context, id, key, value string) error {
	if id == "" {
		return ErrNoSession
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.key(id), key, value)
	pipe.Expire(ctx, b.key(id), b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Delete removes a field
func (b *RedisBackend) Delete(ctx context.Context, id, key string) error {
	if id == "" {
		return ErrNoSession
	}
	if err := b.client.HDel(ctx, b.key(id), key).Err(); err != nil {
		return fmt.Errorf("failed to delete session key: %w", err)
	}
	return nil
}

// Destroy removes the session hash
func (b *RedisBackend) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
