package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tami:dedupe:"

// RedisDedupe shares dedupe state between instances via SET NX EX.
type RedisDedupe struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedupe connects using a redis:// URL.
func NewRedisDedupe(url string, ttl time.Duration) (*RedisDedupe, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	return NewRedisDedupeClient(redis.NewClient(opts), ttl), nil
}

func NewRedisDedupeClient(client *redis.Client, ttl time.Duration) *RedisDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDedupe{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisDedupe) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisDedupe) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisDedupe) Mark(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisDedupe) MarkIfNew(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *RedisDedupe) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisDedupe) Close() error {
	return r.client.Close()
}
