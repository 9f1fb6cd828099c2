// Package kv defines the key-value contract every stateful component in
// permwatch is written against, with a Redis implementation for production
// and an in-memory implementation for tests and local runs.
//
// All mutations are single-key. Callers that need several keys to change
// together must tolerate partial completion.
package kv

import (
	"context"
	"time"
)

// TTL sentinels, matching Redis TTL semantics.
const (
	NoExpiry   time.Duration = -1
	KeyMissing time.Duration = -2
)

// Store is the key-value surface consumed by the event store, lifecycle,
// renewal and notification services. A ttl of zero means "no expiry".
// Get and HGet return sentinel.ErrNotFound for missing keys or fields.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Persist(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, prefix string) ([]string, error)

	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
	LLen(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key string, values map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Ping(ctx context.Context) error
}
