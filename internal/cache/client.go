// Package cache implements a generic cache-aside layer over redis with
// three query strategies: pass-through with negative caching, mutex-guarded
// rebuild, and logical-expiry with stale-while-revalidate.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound covers both a confirmed-absent entity and a negative-cached
	// sentinel hit.
	ErrNotFound = errors.New("cache: entity not found")

	// ErrLockContention is returned when the mutex strategy exhausts its
	// bounded retry budget without acquiring the rebuild lock.
	ErrLockContention = errors.New("cache: rebuild lock contention")
)

// rebuildLockPrefix guards per-key rebuilds. Kept separate from lock.Mutex:
// the rebuild lock is a plain self-expiring latch with no holder identity,
// exactly what single-key cache rebuilds need.
const rebuildLockPrefix = "LOCK_"

// Loader fetches an entity from the backing store. A nil result with a nil
// error means the entity does not exist.
type Loader[T any] func(ctx context.Context, id int64) (*T, error)

type Config struct {
	// NegativeTTL bounds how long a confirmed-absent sentinel lives.
	NegativeTTL time.Duration
	// LockTTL is the lease on per-key rebuild locks.
	LockTTL time.Duration
	// RetryInterval and MaxRetries bound the mutex-strategy spin.
	RetryInterval time.Duration
	MaxRetries    int
	// RebuildWorkers and RebuildQueue size the async rebuild pool.
	RebuildWorkers int
	RebuildQueue   int
	// RebuildTimeout bounds a single async rebuild.
	RebuildTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		NegativeTTL:    2 * time.Minute,
		LockTTL:        10 * time.Second,
		RetryInterval:  50 * time.Millisecond,
		MaxRetries:     20,
		RebuildWorkers: 10,
		RebuildQueue:   64,
		RebuildTimeout: 5 * time.Second,
	}
}

// Client is the cache-aside engine. It owns a bounded pool of rebuild
// workers; Close drains the pool. The optional Membership filter
// short-circuits definitely-absent IDs before any backing-store read.
type Client struct {
	rdb    *redis.Client
	filter *Membership
	cfg    Config

	rebuilds  chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(rdb *redis.Client, filter *Membership, cfg Config) *Client {
	c := &Client{
		rdb:      rdb,
		filter:   filter,
		cfg:      cfg,
		rebuilds: make(chan func(), cfg.RebuildQueue),
	}
	for i := 0; i < cfg.RebuildWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for task := range c.rebuilds {
				task()
			}
		}()
	}
	return c
}

// Close stops accepting rebuilds and waits for in-flight ones to finish.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.rebuilds) })
	c.wg.Wait()
}

// Set writes a plain entry whose freshness is enforced by the store TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, buf, ttl).Err()
}

// envelope is the logical-expiry encoding. Presence of the key never means
// freshness; only ExpireAt does.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expire_at"`
}

// SetWithLogicalExpire writes an entry whose freshness window is embedded in
// the payload. No store-level TTL is set.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, window time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	env := envelope{Data: data, ExpireAt: time.Now().Add(window)}
	buf, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, buf, 0).Err()
}

// Delete removes a cache entry (write-path invalidation).
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// QueryWithPassThrough serves a read through the cache, guarding the backing
// store against penetration by negative-caching confirmed absences. The
// membership pre-filter, when configured, rejects definitely-absent IDs
// without touching cache or store.
func QueryWithPassThrough[T any](ctx context.Context, c *Client, prefix string, id int64, ttl time.Duration, load Loader[T]) (*T, error) {
	key := prefix + strconv.FormatInt(id, 10)

	v, state, err := getPlain[T](ctx, c, key)
	switch {
	case err != nil:
		return nil, err
	case state == entryHit:
		return v, nil
	case state == entryNegative:
		return nil, ErrNotFound
	}

	if c.filter != nil && !c.filter.MightContain(id) {
		return nil, ErrNotFound
	}

	return loadAndFill(ctx, c, key, id, ttl, load)
}

// QueryWithMutex is QueryWithPassThrough hardened against cache breakdown:
// on a miss, at most one caller rebuilds the entry while the rest spin with
// a bounded backoff, re-checking the cache between attempts.
func QueryWithMutex[T any](ctx context.Context, c *Client, prefix string, id int64, ttl time.Duration, load Loader[T]) (*T, error) {
	key := prefix + strconv.FormatInt(id, 10)

	v, state, err := getPlain[T](ctx, c, key)
	switch {
	case err != nil:
		return nil, err
	case state == entryHit:
		return v, nil
	case state == entryNegative:
		return nil, ErrNotFound
	}

	if c.filter != nil && !c.filter.MightContain(id) {
		return nil, ErrNotFound
	}

	lockKey := rebuildLockPrefix + key
	for attempt := 0; ; attempt++ {
		ok, err := c.tryLock(ctx, lockKey)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, ErrLockContention
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.RetryInterval):
		}
		// A competing holder may have repopulated the entry while we slept.
		v, state, err = getPlain[T](ctx, c, key)
		switch {
		case err != nil:
			return nil, err
		case state == entryHit:
			return v, nil
		case state == entryNegative:
			return nil, ErrNotFound
		}
	}
	defer c.unlock(context.WithoutCancel(ctx), lockKey)

	// Double-check: the previous holder may have finished the rebuild
	// between our last cache read and the acquire.
	v, state, err = getPlain[T](ctx, c, key)
	switch {
	case err != nil:
		return nil, err
	case state == entryHit:
		return v, nil
	case state == entryNegative:
		return nil, ErrNotFound
	}

	return loadAndFill(ctx, c, key, id, ttl, load)
}

// QueryWithLogicalExpire serves pre-warmed entries with an embedded
// freshness window. A cold cache returns ErrNotFound without falling
// through to the backing store; a stale entry is returned immediately while
// at most one async rebuild per key runs on the bounded pool.
func QueryWithLogicalExpire[T any](ctx context.Context, c *Client, prefix string, id int64, window time.Duration, load Loader[T]) (*T, error) {
	key := prefix + strconv.FormatInt(id, 10)

	v, expireAt, state, err := getEnvelope[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if state != entryHit {
		return nil, ErrNotFound
	}
	if expireAt.After(time.Now()) {
		return v, nil
	}

	lockKey := rebuildLockPrefix + key
	ok, err := c.tryLock(ctx, lockKey)
	if err != nil {
		// The stale value is still servable; the next reader retries the lock.
		log.Warn().Err(err).Str("key", key).Msg("rebuild lock attempt failed")
		return v, nil
	}
	if ok {
		// Double-check freshness: another holder may have rebuilt already.
		fresh, freshExpire, freshState, err := getEnvelope[T](ctx, c, key)
		if err == nil && freshState == entryHit && freshExpire.After(time.Now()) {
			c.unlock(context.WithoutCancel(ctx), lockKey)
			return fresh, nil
		}
		scheduleRebuild(c, key, lockKey, id, window, load)
	}

	return v, nil
}

// scheduleRebuild hands the rebuild to the pool, keeping the lock until it
// finishes or fails. If the pool is saturated the lock is released at once
// so a later reader can retry.
func scheduleRebuild[T any](c *Client, key, lockKey string, id int64, window time.Duration, load Loader[T]) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RebuildTimeout)
		defer cancel()
		defer c.unlock(ctx, lockKey)

		v, err := load(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("cache rebuild load failed")
			return
		}
		if v == nil {
			if err := c.rdb.Del(ctx, key).Err(); err != nil {
				log.Error().Err(err).Str("key", key).Msg("cache rebuild delete failed")
			}
			return
		}
		if err := c.SetWithLogicalExpire(ctx, key, v, window); err != nil {
			log.Error().Err(err).Str("key", key).Msg("cache rebuild write failed")
		}
	}

	select {
	case c.rebuilds <- task:
	default:
		log.Warn().Str("key", key).Msg("rebuild pool saturated, skipping rebuild")
		c.unlock(context.Background(), lockKey)
	}
}

type entryState int

const (
	entryMiss entryState = iota
	entryHit
	entryNegative
)

// getPlain reads a plain entry. A corrupt payload is logged and treated as a
// miss so the caller rebuilds instead of failing.
func getPlain[T any](ctx context.Context, c *Client, key string) (*T, entryState, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, entryMiss, nil
	}
	if err != nil {
		return nil, entryMiss, fmt.Errorf("cache get %s: %w", key, err)
	}
	if raw == "" {
		return nil, entryNegative, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, treating as miss")
		return nil, entryMiss, nil
	}
	return &v, entryHit, nil
}

func getEnvelope[T any](ctx context.Context, c *Client, key string) (*T, time.Time, entryState, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, entryMiss, nil
	}
	if err != nil {
		return nil, time.Time{}, entryMiss, fmt.Errorf("cache get %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt cache envelope, treating as miss")
		return nil, time.Time{}, entryMiss, nil
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt cache payload, treating as miss")
		return nil, time.Time{}, entryMiss, nil
	}
	return &v, env.ExpireAt, entryHit, nil
}

// loadAndFill hits the backing store and repopulates the cache, writing a
// short-lived empty sentinel when the entity does not exist.
func loadAndFill[T any](ctx context.Context, c *Client, key string, id int64, ttl time.Duration, load Loader[T]) (*T, error) {
	v, err := load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if v == nil {
		if err := c.rdb.Set(ctx, key, "", c.cfg.NegativeTTL).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("negative cache write failed")
		}
		return nil, ErrNotFound
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}

func (c *Client) tryLock(ctx context.Context, lockKey string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey, "1", c.cfg.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", lockKey, err)
	}
	return ok, nil
}

func (c *Client) unlock(ctx context.Context, lockKey string) {
	if err := c.rdb.Del(ctx, lockKey).Err(); err != nil {
		log.Warn().Err(err).Str("key", lockKey).Msg("rebuild lock release failed")
	}
}
