package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*IdempotencyCache, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewIdempotencyCache(client, time.Minute)
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return cache, cleanup
}

func TestIdempotencyReserveAndLookup(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	ctx := context.Background()
	winner, err := cache.Reserve(ctx, "client-key-1", "job-a")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if winner != "job-a" {
		t.Fatalf("first reserve should win, got %q", winner)
	}

	winner, err = cache.Reserve(ctx, "client-key-1", "job-b")
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if winner != "job-a" {
		t.Fatalf("second reserve should return the original job, got %q", winner)
	}

	jobID, ok := cache.Lookup(ctx, "client-key-1")
	if !ok || jobID != "job-a" {
		t.Fatalf("lookup = %q, %v", jobID, ok)
	}
}

func TestIdempotencyLookupMiss(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	if _, ok := cache.Lookup(context.Background(), "unknown"); ok {
		t.Fatal("lookup should miss for unknown key")
	}
}

func TestIdempotencyNilSafe(t *testing.T) {
	var cache *IdempotencyCache
	if _, ok := cache.Lookup(context.Background(), "k"); ok {
		t.Fatal("nil cache should miss")
	}
	if winner, err := cache.Reserve(context.Background(), "k", "job-x"); err != nil || winner != "job-x" {
		t.Fatalf("nil cache reserve = %q, %v", winner, err)
	}
}
