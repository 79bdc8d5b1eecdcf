package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/crm-session-security/internal/repository"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestSessionStore_SetGetWithTTL(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewSessionStore(client, 2*time.Second)
	ctx := context.Background()

	if err := store.Set(ctx, "authrt:abc", `{"user_id":"u1"}`, time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	value, err := store.Get(ctx, "authrt:abc")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if value != `{"user_id":"u1"}` {
		t.Fatalf("unexpected value %q", value)
	}

	remaining := server.TTL("authrt:abc")
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("expected ttl within (0, 1m], got %v", remaining)
	}
}

func TestSessionStore_GetMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSessionStore(client, 0)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_SetNXConflict(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSessionStore(client, 0)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "authbl:h1", "marker", time.Minute)
	if err != nil {
		t.Fatalf("SetNX returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected first SetNX to win")
	}

	ok, err = store.SetNX(ctx, "authbl:h1", "other", time.Minute)
	if err != nil {
		t.Fatalf("SetNX returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected second SetNX to lose")
	}

	value, err := store.Get(ctx, "authbl:h1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if value != "marker" {
		t.Fatalf("expected first write preserved, got %q", value)
	}
}

func TestSessionStore_SetOperations(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSessionStore(client, 0)
	ctx := context.Background()

	if err := store.SAdd(ctx, "authidx:sid:s1", "h1", "h2"); err != nil {
		t.Fatalf("SAdd returned error: %v", err)
	}
	if err := store.SAdd(ctx, "authidx:sid:s1", "h2"); err != nil {
		t.Fatalf("SAdd duplicate returned error: %v", err)
	}

	count, err := store.SCard(ctx, "authidx:sid:s1")
	if err != nil {
		t.Fatalf("SCard returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected cardinality 2, got %d", count)
	}

	members, err := store.SMembers(ctx, "authidx:sid:s1")
	if err != nil {
		t.Fatalf("SMembers returned error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	if err := store.Delete(ctx, "authidx:sid:s1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	members, err = store.SMembers(ctx, "authidx:sid:s1")
	if err != nil {
		t.Fatalf("SMembers after delete returned error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty set after delete, got %d members", len(members))
	}
}

func TestSessionStore_Expire(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewSessionStore(client, 0)
	ctx := context.Background()

	if err := store.SAdd(ctx, "authidx:sid:s2", "h1"); err != nil {
		t.Fatalf("SAdd returned error: %v", err)
	}
	if err := store.Expire(ctx, "authidx:sid:s2", time.Hour); err != nil {
		t.Fatalf("Expire returned error: %v", err)
	}

	remaining := server.TTL("authidx:sid:s2")
	if remaining <= 0 || remaining > time.Hour {
		t.Fatalf("expected ttl within (0, 1h], got %v", remaining)
	}
}
