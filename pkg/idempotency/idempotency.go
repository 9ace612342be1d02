package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// =====================================================
// IDEMPOTENCY ENGINE
// =====================================================
// Wraps a mutating operation so a caller-supplied key makes it exactly-once:
// a short-lived lock serializes concurrent duplicates and a result cache
// replays the stored response to late retries. Failures are never cached, so
// a retry after an error re-executes.

// ErrInProgress is returned when another request holding the same key has
// the lock and no result is cached yet.
var ErrInProgress = errors.New("request with this key is already in flight")

// Store is the minimal cache surface the engine needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Options tune the engine's key namespaces and TTLs.
type Options struct {
	LockPrefix   string
	ResultPrefix string
	LockTTL      time.Duration
	ResultTTL    time.Duration
}

type Engine struct {
	store Store
	opts  Options
}

func NewEngine(store Store, opts Options) *Engine {
	if opts.LockPrefix == "" {
		opts.LockPrefix = "lock:"
	}
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = "result:"
	}
	if opts.LockTTL == 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.ResultTTL == 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	return &Engine{store: store, opts: opts}
}

// Do runs fn at most once per key. When a cached result exists it is
// unmarshalled into out and (true, nil) is returned without running fn.
// On first execution the result is cached and copied into out. out must be
// a pointer to the same shape fn returns.
func (e *Engine) Do(ctx context.Context, key string, out interface{}, fn func(ctx context.Context) (interface{}, error)) (bool, error) {
	resultKey := e.opts.ResultPrefix + key
	lockKey := e.opts.LockPrefix + key

	if cached, ok, err := e.store.Get(ctx, resultKey); err != nil {
		return false, fmt.Errorf("failed to read idempotency result: %w", err)
	} else if ok {
		return true, json.Unmarshal(cached, out)
	}

	acquired, err := e.store.SetNX(ctx, lockKey, []byte("1"), e.opts.LockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}
	if !acquired {
		// The holder may have finished between our read and the lock attempt
		if cached, ok, err := e.store.Get(ctx, resultKey); err == nil && ok {
			return true, json.Unmarshal(cached, out)
		}
		return false, ErrInProgress
	}

	result, err := fn(ctx)
	if err != nil {
		// Release immediately so the caller's retry is not blocked for the
		// remaining lock TTL
		e.store.Del(ctx, lockKey)
		return false, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		e.store.Del(ctx, lockKey)
		return false, fmt.Errorf("failed to encode idempotency result: %w", err)
	}
	if err := e.store.Set(ctx, resultKey, encoded, e.opts.ResultTTL); err != nil {
		e.store.Del(ctx, lockKey)
		return false, fmt.Errorf("failed to cache idempotency result: %w", err)
	}
	e.store.Del(ctx, lockKey)

	return false, json.Unmarshal(encoded, out)
}

// =====================================================
// REDIS STORE
// =====================================================

type redisStore struct {
	client *redis.Client
}

// NewRedisStore adapts a go-redis client to the engine's store surface.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *redisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
