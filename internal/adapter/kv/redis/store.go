// Package redis implements the session and dedup key-value store on Redis.
//
// Sessions live in their own logical database, separate from the queue
// database, so queue maintenance never clears conversation state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the small surface the services need.
type Store struct {
	rdb *goredis.Client
}

// NewClient dials Redis with the standard options used across the project.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// NewStore wraps an existing client.
func NewStore(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

// Get returns the value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=kv.Get key=%s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a value with a TTL. A zero ttl persists the key.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("op=kv.Set key=%s: %w", key, err)
	}
	return nil
}

// SetNX stores a value only when the key is absent. Reports whether the
// write happened.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=kv.SetNX key=%s: %w", key, err)
	}
	return ok, nil
}

// Incr atomically increments the integer at key, creating it at 1.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("op=kv.Incr key=%s: %w", key, err)
	}
	return n, nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("op=kv.Exists key=%s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes keys; missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=kv.Del: %w", err)
	}
	return nil
}

// TTL reports the remaining lifetime of a key; ok is false when the key is
// absent or has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("op=kv.TTL key=%s: %w", key, err)
	}
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// KeysByPattern collects keys matching a glob pattern with SCAN. KEYS blocks
// the server and is never used.
func (s *Store) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("op=kv.KeysByPattern pattern=%s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// GetJSON loads and unmarshals a JSON value. ok follows Get semantics.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("op=kv.GetJSON key=%s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals and stores a JSON value with a TTL.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=kv.SetJSON key=%s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// MarkOnce records key atomically and reports whether this call was the
// first. Errors surface to the caller so webhook dedup can fail closed:
// when Redis is unreachable a message is treated as already seen rather
// than risking double processing.
func (s *Store) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=kv.MarkOnce key=%s: %w", key, err)
	}
	return first, nil
}

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=kv.Ping: %w", err)
	}
	return nil
}

// Client exposes the raw client for Lua-scripted callers.
func (s *Store) Client() *goredis.Client { return s.rdb }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }
