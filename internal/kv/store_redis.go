package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"permwatch/pkg/platform/sentinel"
)

var scanDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "permwatch_kv_scan_duration_ms",
	Help:    "Latency of prefix scans in milliseconds",
	Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
})

const scanBatch = 200

// RedisStore is the go-redis backed Store. The client lifecycle is managed
// by the caller.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedis constructs a Redis-backed store.
func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("key %s: %w", key, sentinel.ErrNotFound)
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX sets key only when absent. The boolean reports whether this call
// created the key.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.Expire(ctx, key, ttl).Result()
}

func (s *RedisStore) Persist(ctx context.Context, key string) (bool, error) {
	return s.client.Persist(ctx, key).Result()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return KeyMissing, err
	}
	switch d {
	case -1:
		return NoExpiry, nil
	case -2:
		return KeyMissing, nil
	}
	return d, nil
}

// Keys returns every key starting with prefix. Uses SCAN so large keyspaces
// do not block the server.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	defer func() {
		scanDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return s.client.LPush(ctx, key, toArgs(values)...).Result()
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return s.client.RPush(ctx, key, toArgs(values)...).Result()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	return s.client.LRem(ctx, key, count, value).Result()
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("field %s of %s: %w", field, key, sentinel.ErrNotFound)
	}
	return val, err
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.client.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
