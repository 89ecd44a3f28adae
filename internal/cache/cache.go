// Package cache is a read-through cache on Redis with selectable policies
// against cache penetration and cache breakdown.
//
// A stored entry is either a codec-encoded payload or the empty negative
// sentinel, never both. Reads distinguish three states explicitly: no entry,
// cached payload, cached absence.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yunqi-lab/nearbuy/internal/metrics"
	"github.com/yunqi-lab/nearbuy/internal/redlock"
)

type Policy int

const (
	// PassThrough rebuilds on every miss and negative-caches loader absence.
	PassThrough Policy = iota
	// MutexRebuild allows at most one in-flight rebuild per key; other
	// callers back off and retry a bounded number of times.
	MutexRebuild
	// LogicalExpire never blocks a reader: entries carry an embedded expiry
	// and stale hits trigger one asynchronous rebuild.
	LogicalExpire
)

var (
	// ErrNotFound means neither the cache nor the loader has the value.
	ErrNotFound = errors.New("cache: value not found")
	// ErrBadPayload means the stored entry could not be decoded.
	ErrBadPayload = errors.New("cache: payload could not be decoded")
	// ErrLockUnavailable means the rebuild lock stayed contended for all
	// attempts. Transient; the caller may retry.
	ErrLockUnavailable = errors.New("cache: rebuild lock unavailable")
)

// Loader is the cache-miss fallback, typically a repository lookup.
// found=false reports a key that does not exist in the backing store.
type Loader[T any] func(ctx context.Context, id string) (value T, found bool, err error)

type Options struct {
	Prefix     string // cache key prefix, e.g. "cache:shop:"
	LockPrefix string // rebuild lock prefix, e.g. "lock:shop:"

	LockTTL     time.Duration // bound on a rebuild lock lease; default 10s
	RetryDelay  time.Duration // mutex-policy backoff between attempts; default 50ms
	MaxAttempts int           // mutex-policy attempt bound; default 10

	Logger *zap.Logger
}

type Client[T any] struct {
	rdb    *redis.Client
	locker *redlock.Locker
	codec  Codec[T]
	pool   *RebuildPool
	log    *zap.Logger

	prefix      string
	lockPrefix  string
	lockTTL     time.Duration
	retryDelay  time.Duration
	maxAttempts int
}

func New[T any](rdb *redis.Client, codec Codec[T], pool *RebuildPool, opts Options) *Client[T] {
	c := &Client[T]{
		rdb:         rdb,
		locker:      redlock.NewLocker(rdb),
		codec:       codec,
		pool:        pool,
		log:         opts.Logger,
		prefix:      opts.Prefix,
		lockPrefix:  opts.LockPrefix,
		lockTTL:     opts.LockTTL,
		retryDelay:  opts.RetryDelay,
		maxAttempts: opts.MaxAttempts,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.lockTTL <= 0 {
		c.lockTTL = 10 * time.Second
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 50 * time.Millisecond
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 10
	}
	return c
}

// Get returns the cached value for id, consulting loader on a miss according
// to policy. ttl is the physical TTL for PassThrough and MutexRebuild and the
// logical lifetime for LogicalExpire.
func (c *Client[T]) Get(ctx context.Context, id string, loader Loader[T], ttl time.Duration, policy Policy) (T, error) {
	switch policy {
	case MutexRebuild:
		return c.getWithMutex(ctx, id, loader, ttl)
	case LogicalExpire:
		return c.getWithLogicalExpire(ctx, id, loader, ttl)
	default:
		return c.getPassThrough(ctx, id, loader, ttl)
	}
}

// Invalidate drops the entry for id; the next read rebuilds it.
func (c *Client[T]) Invalidate(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, c.prefix+id).Err(); err != nil {
		return fmt.Errorf("invalidate %s%s: %w", c.prefix, id, err)
	}
	return nil
}

// Warm writes value under logical expiration without consulting the cache.
// Entries read with LogicalExpire must be warmed once at setup; a cold key
// reads as not found rather than blocking on the loader.
func (c *Client[T]) Warm(ctx context.Context, id string, value T, ttl time.Duration) error {
	return c.writeLogical(ctx, c.prefix+id, value, ttl)
}

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupNegative
)

func (c *Client[T]) read(ctx context.Context, key string) ([]byte, lookup, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, lookupMiss, nil
	}
	if err != nil {
		return nil, lookupMiss, fmt.Errorf("read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, lookupNegative, nil
	}
	return raw, lookupHit, nil
}

func (c *Client[T]) getPassThrough(ctx context.Context, id string, loader Loader[T], ttl time.Duration) (T, error) {
	var zero T
	key := c.prefix + id

	raw, state, err := c.read(ctx, key)
	if err != nil {
		return zero, err
	}
	switch state {
	case lookupHit:
		metrics.CacheReads.WithLabelValues(c.prefix, "hit").Inc()
		return c.decode(key, raw)
	case lookupNegative:
		metrics.CacheReads.WithLabelValues(c.prefix, "negative_hit").Inc()
		return zero, ErrNotFound
	}

	metrics.CacheReads.WithLabelValues(c.prefix, "miss").Inc()
	return c.loadAndStore(ctx, key, id, loader, ttl)
}

func (c *Client[T]) getWithMutex(ctx context.Context, id string, loader Loader[T], ttl time.Duration) (T, error) {
	var zero T
	key := c.prefix + id
	lockKey := c.lockPrefix + id

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		raw, state, err := c.read(ctx, key)
		if err != nil {
			return zero, err
		}
		switch state {
		case lookupHit:
			metrics.CacheReads.WithLabelValues(c.prefix, "hit").Inc()
			return c.decode(key, raw)
		case lookupNegative:
			metrics.CacheReads.WithLabelValues(c.prefix, "negative_hit").Inc()
			return zero, ErrNotFound
		}
		metrics.CacheReads.WithLabelValues(c.prefix, "miss").Inc()

		token, ok, err := c.locker.TryLock(ctx, lockKey, c.lockTTL)
		if err != nil {
			return zero, err
		}
		if !ok {
			// Another caller is rebuilding; back off and re-read from the top.
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		return func() (T, error) {
			defer c.unlock(ctx, lockKey, token)
			return c.loadAndStore(ctx, key, id, loader, ttl)
		}()
	}

	return zero, ErrLockUnavailable
}

// envelope wraps a payload with its logical expiry for the LogicalExpire
// policy. The entry has no physical TTL; staleness is tracked here.
type envelope struct {
	ExpireAt time.Time `json:"expireAt"`
	Data     []byte    `json:"data"`
}

func (c *Client[T]) getWithLogicalExpire(ctx context.Context, id string, loader Loader[T], ttl time.Duration) (T, error) {
	var zero T
	key := c.prefix + id

	raw, state, err := c.read(ctx, key)
	if err != nil {
		return zero, err
	}
	if state != lookupHit {
		metrics.CacheReads.WithLabelValues(c.prefix, "miss").Inc()
		return zero, ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("%w: envelope %s", ErrBadPayload, key)
	}
	v, err := c.decode(key, env.Data)
	if err != nil {
		return zero, err
	}

	if time.Now().Before(env.ExpireAt) {
		metrics.CacheReads.WithLabelValues(c.prefix, "hit").Inc()
		return v, nil
	}

	// Stale. Hand the rebuild to the pool if we win the lock and return the
	// stale value either way; the reader never waits.
	metrics.CacheReads.WithLabelValues(c.prefix, "stale_hit").Inc()
	c.scheduleRebuild(key, id, loader, ttl)
	return v, nil
}

func (c *Client[T]) scheduleRebuild(key, id string, loader Loader[T], ttl time.Duration) {
	lockKey := c.lockPrefix + id

	// Deliberately detached from the caller's context: the rebuild must
	// outlive the stale read that triggered it.
	ctx, cancel := context.WithTimeout(context.Background(), c.lockTTL)

	token, ok, err := c.locker.TryLock(ctx, lockKey, c.lockTTL)
	if err != nil {
		cancel()
		c.log.Warn("rebuild lock acquire failed", zap.String("key", lockKey), zap.Error(err))
		return
	}
	if !ok {
		// Someone else is already rebuilding.
		cancel()
		return
	}

	submitted := c.pool.TrySubmit(func() {
		defer cancel()
		defer c.unlock(ctx, lockKey, token)
		if err := c.refresh(ctx, key, id, loader, ttl); err != nil {
			metrics.CacheRebuildFailures.WithLabelValues(c.prefix).Inc()
			c.log.Error("async cache rebuild failed",
				zap.String("key", key), zap.Error(err))
		}
	})
	if !submitted {
		// Pool saturated: shed this rebuild and free the lock so a later
		// stale read can try again.
		metrics.CacheRebuildShed.WithLabelValues(c.prefix).Inc()
		c.unlock(ctx, lockKey, token)
		cancel()
	}
}

// refresh re-loads id and rewrites the entry with a fresh logical expiry.
// A value that vanished from the backing store drops the entry entirely.
func (c *Client[T]) refresh(ctx context.Context, key, id string, loader Loader[T], ttl time.Duration) error {
	v, found, err := loader(ctx, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !found {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("drop %s: %w", key, err)
		}
		return nil
	}
	return c.writeLogical(ctx, key, v, ttl)
}

// loadAndStore consults the loader and writes the payload, or the negative
// sentinel when the loader reports absence, with a physical TTL.
func (c *Client[T]) loadAndStore(ctx context.Context, key, id string, loader Loader[T], ttl time.Duration) (T, error) {
	var zero T

	v, found, err := loader(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", key, err)
	}
	if !found {
		if err := c.rdb.Set(ctx, key, "", ttl).Err(); err != nil {
			return zero, fmt.Errorf("write negative entry %s: %w", key, err)
		}
		return zero, ErrNotFound
	}

	b, err := c.codec.Encode(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return zero, fmt.Errorf("write entry %s: %w", key, err)
	}
	return v, nil
}

func (c *Client[T]) writeLogical(ctx context.Context, key string, v T, ttl time.Duration) error {
	b, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope{ExpireAt: time.Now().Add(ttl), Data: b})
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("write entry %s: %w", key, err)
	}
	return nil
}

func (c *Client[T]) decode(key string, raw []byte) (T, error) {
	v, err := c.codec.Decode(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrBadPayload, key)
	}
	return v, nil
}

func (c *Client[T]) unlock(ctx context.Context, key, token string) {
	if err := c.locker.Unlock(ctx, key, token); err != nil {
		c.log.Warn("rebuild lock release failed", zap.String("key", key), zap.Error(err))
	}
}
