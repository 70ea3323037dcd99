package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisIdempotencyStore(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func exerciseStore(t *testing.T, store IdempotencyStore) {
	ctx := context.Background()

	result, err := store.Begin(ctx, "key-1")
	if err != nil || result != nil {
		t.Fatalf("Expected new key, got result=%q err=%v", result, err)
	}

	if _, err := store.Begin(ctx, "key-1"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("Expected ErrInProgress, got %v", err)
	}

	if err := store.Complete(ctx, "key-1", []byte(`{"id":"pi_1"}`)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	result, err = store.Begin(ctx, "key-1")
	if err != nil {
		t.Fatalf("Begin after complete failed: %v", err)
	}
	if string(result) != `{"id":"pi_1"}` {
		t.Errorf("Expected stored result, got %q", result)
	}

	if _, err := store.Begin(ctx, "key-2"); err != nil {
		t.Fatalf("Begin key-2 failed: %v", err)
	}
	if err := store.Abandon(ctx, "key-2"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if result, err := store.Begin(ctx, "key-2"); err != nil || result != nil {
		t.Errorf("Expected abandoned key to be reusable, got result=%q err=%v", result, err)
	}
}

func TestRedisIdempotencyStore(t *testing.T) {
	store, _ := newRedisStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	exerciseStore(t, NewMemoryIdempotencyStore())
}

func TestRedisInProgressExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.Begin(ctx, "stuck"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(InProgressExpiry + time.Second)

	if result, err := store.Begin(ctx, "stuck"); err != nil || result != nil {
		t.Errorf("Expected expired in-progress key to be reclaimed, got result=%q err=%v", result, err)
	}
}

func TestMemoryInProgressExpires(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := store.Begin(ctx, "stuck"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(InProgressExpiry + time.Second)

	if result, err := store.Begin(ctx, "stuck"); err != nil || result != nil {
		t.Errorf("Expected expired in-progress key to be reclaimed, got result=%q err=%v", result, err)
	}
}
