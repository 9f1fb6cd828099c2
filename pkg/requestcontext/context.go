// Package requestcontext provides context accessors for values that cross
// service boundaries without being part of any call signature.
//
// Background loops (poller, renewal scheduler, stats refresher) and services
// read the current time through Now so tests can pin it:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	now := requestcontext.Now(ctx)
//
// Each loop tick also carries a correlation id so that log lines from the
// poller, lifecycle and notification stages of one tick can be joined:
//
//	ctx = requestcontext.WithRequestID(ctx, "tick-42")
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	userKey        struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyUser        = userKey{}
)

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// User retrieves the wallet address the current operation acts for.
func User(ctx context.Context) string {
	if user, ok := ctx.Value(ContextKeyUser).(string); ok {
		return user
	}
	return ""
}

// WithUser injects the wallet address the current operation acts for.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// Now retrieves the pinned time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that need deterministic expiry checks
//   - Loop ticks that need one consistent "now" across a batch
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
