// Package querycache implements the in-process read cache sitting between
// repositories and PostgreSQL. Entries are keyed by table plus query
// signature and invalidated table-wide on every write to that table.
package querycache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Defaults applied when Config fields are zero.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100
	DefaultSlowQuery  = time.Second
)

// Recorder receives cache and query telemetry. Implemented by
// observability.Metrics; a nil Recorder disables telemetry.
type Recorder interface {
	CacheHit(table string)
	CacheMiss(table string)
	SlowQuery(table string)
}

// Config tunes a Cache instance. Tests inject a short TTL and a fake clock.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	SlowQuery  time.Duration
	Now        func() time.Time
}

type entry struct {
	value    any
	storedAt time.Time
}

// Cache memoizes query results per table with a bounded lifetime.
type Cache struct {
	logger   *slog.Logger
	recorder Recorder
	ttl      time.Duration
	max      int
	slow     time.Duration
	now      func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
}

// New constructs a Cache. The logger may be nil.
func New(logger *slog.Logger, recorder Recorder, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.SlowQuery <= 0 {
		cfg.SlowQuery = DefaultSlowQuery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:   logger,
		recorder: recorder,
		ttl:      cfg.TTL,
		max:      cfg.MaxEntries,
		slow:     cfg.SlowQuery,
		now:      cfg.Now,
		entries:  make(map[string]entry),
	}
}

// Fetch returns the cached value for (table, query) when fresh, otherwise
// executes loader and stores its result. Concurrent fetches for the same key
// are coalesced into a single loader execution.
func (c *Cache) Fetch(ctx context.Context, table, query string, loader func(context.Context) (any, error)) (any, error) {
	key := cacheKey(table, query)
	if value, ok := c.lookup(key); ok {
		if c.recorder != nil {
			c.recorder.CacheHit(table)
		}
		return value, nil
	}
	if c.recorder != nil {
		c.recorder.CacheMiss(table)
	}

	resultChan := c.group.DoChan(key, func() (any, error) {
		value, err := c.execute(ctx, table, query, loader)
		if err != nil {
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}

// Invalidate evicts every entry belonging to the given table.
func (c *Cache) Invalidate(table string) {
	prefix := table + ":"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(item.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return item.value, true
}

func (c *Cache) store(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now()}
	if len(c.entries) > c.max {
		c.sweepLocked()
	}
	c.mu.Unlock()
}

// sweepLocked drops stale entries once the cache outgrows its bound. This is
// a generational cleanup, not LRU: fresh entries survive even over the bound.
func (c *Cache) sweepLocked() {
	cutoff := c.now().Add(-c.ttl)
	for key, item := range c.entries {
		if item.storedAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}

func (c *Cache) execute(ctx context.Context, table, query string, loader func(context.Context) (any, error)) (any, error) {
	start := c.now()
	value, err := loader(ctx)
	elapsed := c.now().Sub(start)
	c.logger.Debug("query executed",
		slog.String("table", table),
		slog.String("query", query),
		slog.Duration("duration", elapsed),
	)
	if elapsed >= c.slow {
		c.logger.Warn("slow query",
			slog.String("table", table),
			slog.String("query", query),
			slog.Duration("duration", elapsed),
		)
		if c.recorder != nil {
			c.recorder.SlowQuery(table)
		}
	}
	return value, err
}

func cacheKey(table, query string) string {
	return table + ":" + query
}

// FetchTyped wraps Cache.Fetch with a typed loader.
func FetchTyped[T any](ctx context.Context, c *Cache, table, query string, loader func(context.Context) (T, error)) (T, error) {
	value, err := c.Fetch(ctx, table, query, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, errors.New("querycache: cached value has unexpected type")
	}
	return typed, nil
}
