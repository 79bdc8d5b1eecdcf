package port

import (
	"context"
	"time"
)

// SessionStore is the narrow key-value contract the token and alerting
// services rely on. Implementations map onto Redis primitives; a miss on Get
// is reported as repository.ErrNotFound. The store is best-effort shared
// state: callers degrade gracefully when it is unreachable.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes the value only when the key is absent and reports whether
	// the write happened. This is the atomic check-and-blacklist primitive.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
}
