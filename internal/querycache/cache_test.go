package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(clock *fakeClock, cfg Config) *Cache {
	if clock != nil {
		cfg.Now = clock.Now
	}
	return New(nil, nil, cfg)
}

func TestFetchCachesSecondRead(t *testing.T) {
	cache := newTestCache(newFakeClock(), Config{})
	calls := 0
	loader := func(ctx context.Context) (any, error) {
		calls++
		return []string{"Admin"}, nil
	}

	first, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)
	second, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second read must hit the cache")
}

func TestFetchDoesNotCacheErrors(t *testing.T) {
	cache := newTestCache(newFakeClock(), Config{})
	calls := 0
	loader := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return "ok", nil
	}

	_, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.Error(t, err)
	value, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, calls)
}

func TestInvalidateEvictsWholeTable(t *testing.T) {
	cache := newTestCache(newFakeClock(), Config{})
	calls := 0
	loader := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := cache.Fetch(context.Background(), "user_roles", "user=1", loader)
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), "user_roles", "user=2", loader)
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)

	cache.Invalidate("user_roles")

	_, err = cache.Fetch(context.Background(), "user_roles", "user=1", loader)
	require.NoError(t, err)
	assert.Equal(t, 4, calls, "invalidated table must re-query")

	_, err = cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)
	assert.Equal(t, 4, calls, "other tables keep their entries")
}

func TestInvalidateMatchesTablePrefixOnly(t *testing.T) {
	cache := newTestCache(newFakeClock(), Config{})
	calls := 0
	loader := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), "role_audit", "all", loader)
	require.NoError(t, err)

	cache.Invalidate("roles")

	_, err = cache.Fetch(context.Background(), "role_audit", "all", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "role_audit must not be evicted by a roles write")
}

func TestFetchExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(clock, Config{TTL: time.Minute})
	calls := 0
	loader := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	clock.Advance(2 * time.Second)
	value, err := cache.Fetch(context.Background(), "roles", "list", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
	assert.Equal(t, 2, calls)
}

func TestSweepDropsStaleEntriesOverBound(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(clock, Config{TTL: time.Minute, MaxEntries: 5})
	loader := func(ctx context.Context) (any, error) { return "x", nil }

	for i := 0; i < 5; i++ {
		_, err := cache.Fetch(context.Background(), "roles", fmt.Sprintf("q=%d", i), loader)
		require.NoError(t, err)
	}
	require.Equal(t, 5, cache.Len())

	// Age the first generation past the TTL, then overflow the bound.
	clock.Advance(2 * time.Minute)
	_, err := cache.Fetch(context.Background(), "roles", "q=5", loader)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.Len(), "stale generation must be swept")
}

func TestFetchTyped(t *testing.T) {
	cache := newTestCache(newFakeClock(), Config{})
	roles, err := FetchTyped(context.Background(), cache, "roles", "list", func(ctx context.Context) ([]string, error) {
		return []string{"Admin", "Manager"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "Manager"}, roles)

	cached, err := FetchTyped(context.Background(), cache, "roles", "list", func(ctx context.Context) ([]string, error) {
		t.Fatal("loader must not run on a fresh entry")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, roles, cached)
}

func TestFetchCoalescesConcurrentLoads(t *testing.T) {
	cache := newTestCache(nil, Config{})
	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})
	loader := func(ctx context.Context) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := cache.Fetch(context.Background(), "roles", "list", loader)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}()
	}
	// Give the goroutines time to pile onto the same key.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "concurrent identical reads must share one load")
}
