package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/crm-session-security/internal/core/port"
)

// SlidingWindowConfig defines configuration for the sliding event window.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// EventWindowRepository stores security events in Redis sorted sets so
// detectors can count occurrences inside a trailing window.
type EventWindowRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

// NewEventWindowRepository constructs a repository using the provided Redis
// client and config.
func NewEventWindowRepository(client *redis.Client, cfg SlidingWindowConfig) *EventWindowRepository {
	return &EventWindowRepository{client: client, cfg: cfg}
}

// RecordEvent stores the provided timestamp within the window and applies TTL.
func (r *EventWindowRepository) RecordEvent(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	member := redis.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()}

	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}

	if r.cfg.TTL > 0 {
		if err := r.client.Expire(ctx, key, r.cfg.TTL).Err(); err != nil {
			return fmt.Errorf("redis expire: %w", err)
		}
	}

	return nil
}

// CountEvents returns how many events occurred within the window ending at
// reference time.
func (r *EventWindowRepository) CountEvents(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	key := r.key(identifier)
	min := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))
	max := fmt.Sprintf("%f", float64(reference.UnixNano()))

	count, err := r.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}

	return int(count), nil
}

// TrimWindow removes events older than the provided window relative to
// reference time.
func (r *EventWindowRepository) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	key := r.key(identifier)
	threshold := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))

	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}

	return nil
}

// OldestEvent returns the earliest event inside the window ending at
// reference time, if one exists.
func (r *EventWindowRepository) OldestEvent(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	key := r.key(identifier)
	rangeBy := &redis.ZRangeBy{
		Min:    fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano())),
		Max:    fmt.Sprintf("%f", float64(reference.UnixNano())),
		Offset: 0,
		Count:  1,
	}

	members, err := r.client.ZRangeByScoreWithScores(ctx, key, rangeBy).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}

	return time.Unix(0, int64(members[0].Score)).UTC(), true, nil
}

func (r *EventWindowRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

var _ port.EventWindowStore = (*EventWindowRepository)(nil)
