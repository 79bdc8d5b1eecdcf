package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/repository"
)

// SessionStore implements port.SessionStore on top of Redis. Every operation
// is bounded by an operation timeout so a degraded Redis cannot stall the
// request path; callers treat a timeout the same as an unavailable store.
type SessionStore struct {
	client    *red.Client
	opTimeout time.Duration
}

// NewSessionStore wires a Redis-backed session store with the supplied
// per-operation timeout (0 disables the bound).
func NewSessionStore(client *red.Client, opTimeout time.Duration) *SessionStore {
	return &SessionStore{client: client, opTimeout: opTimeout}
}

// Get returns the value at key, or repository.ErrNotFound on a miss.
func (s *SessionStore) Get(ctx context.Context, key string) (string, error) {
	if key = strings.TrimSpace(key); key == "" {
		return "", fmt.Errorf("key is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}

	return value, nil
}

// Set writes the value with the supplied TTL.
func (s *SessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key = strings.TrimSpace(key); key == "" {
		return fmt.Errorf("key is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// SetNX writes the value only when the key is absent and reports whether the
// write happened. This is the single atomic primitive the rotation path uses
// for check-and-blacklist.
func (s *SessionStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key = strings.TrimSpace(key); key == "" {
		return false, fmt.Errorf("key is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}

	return ok, nil
}

// Delete removes the supplied keys. Missing keys are not an error.
func (s *SessionStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Expire refreshes the TTL on a key.
func (s *SessionStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if key = strings.TrimSpace(key); key == "" {
		return fmt.Errorf("key is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}

	return nil
}

// SAdd adds members to the set at key.
func (s *SessionStore) SAdd(ctx context.Context, key string, members ...string) error {
	if key = strings.TrimSpace(key); key == "" {
		return fmt.Errorf("key is required")
	}
	if len(members) == 0 {
		return nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	values := make([]interface{}, len(members))
	for i, member := range members {
		values[i] = member
	}

	if err := s.client.SAdd(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}

	return nil
}

// SMembers returns every member of the set at key. A missing set yields an
// empty slice, not an error.
func (s *SessionStore) SMembers(ctx context.Context, key string) ([]string, error) {
	if key = strings.TrimSpace(key); key == "" {
		return nil, fmt.Errorf("key is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	return members, nil
}

// SCard returns the cardinality of the set at key.
func (s *SessionStore) SCard(ctx context.Context, key string) (int64, error) {
	if key = strings.TrimSpace(key); key == "" {
		return 0, fmt.Errorf("key is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	count, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}

	return count, nil
}

func (s *SessionStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

var _ port.SessionStore = (*SessionStore)(nil)
