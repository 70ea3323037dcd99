package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"

	// Short so a crashed request does not block its key for long
	InProgressExpiry = 10 * time.Second
	CompletedExpiry  = 24 * time.Hour
)

// ErrInProgress means another request with the same key has not finished.
var ErrInProgress = errors.New("request already in progress")

// IdempotencyStore deduplicates requests carrying an idempotency key.
//
// Begin returns the stored result for a completed key, ErrInProgress for a
// key held by another request, or (nil, nil) once the caller owns the key.
// The owner must call Complete or Abandon.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string) ([]byte, error)
	Complete(ctx context.Context, key string, result []byte) error
	Abandon(ctx context.Context, key string) error
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idem:%s", key)
}

// RedisIdempotencyStore keeps keys in redis so duplicates are caught across
// restarts and instances.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(addr, password string, db int) *RedisIdempotencyStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisIdempotencyStore{client: rdb}
}

func (r *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisIdempotencyStore) Close() error {
	return r.client.Close()
}

func (r *RedisIdempotencyStore) Begin(ctx context.Context, key string) ([]byte, error) {
	k := idempotencyKey(key)

	if result, ok, err := r.completed(ctx, k); err != nil || ok {
		return result, err
	}

	set, err := r.client.SetNX(ctx, k, StatusInProgress, InProgressExpiry).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX error: %w", err)
	}
	if set {
		return nil, nil
	}

	// Lost the race; the holder may have finished in between.
	if result, ok, err := r.completed(ctx, k); err != nil || ok {
		return result, err
	}
	return nil, ErrInProgress
}

func (r *RedisIdempotencyStore) completed(ctx context.Context, k string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET error: %w", err)
	}
	if payload, ok := strings.CutPrefix(val, StatusCompleted+":"); ok {
		return []byte(payload), true, nil
	}
	return nil, false, nil
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, result []byte) error {
	return r.client.Set(ctx, idempotencyKey(key), StatusCompleted+":"+string(result), CompletedExpiry).Err()
}

func (r *RedisIdempotencyStore) Abandon(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKey(key)).Err()
}

type memoryEntry struct {
	status  string
	result  []byte
	expires time.Time
}

// MemoryIdempotencyStore is the single-process fallback used when no redis
// address is configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryIdempotencyStore) Begin(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		if e.status == StatusCompleted {
			return e.result, nil
		}
		return nil, ErrInProgress
	}
	m.entries[key] = memoryEntry{status: StatusInProgress, expires: now.Add(InProgressExpiry)}
	m.sweep(now)
	return nil, nil
}

func (m *MemoryIdempotencyStore) Complete(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{status: StatusCompleted, result: result, expires: m.now().Add(CompletedExpiry)}
	return nil
}

func (m *MemoryIdempotencyStore) Abandon(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryIdempotencyStore) sweep(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}
