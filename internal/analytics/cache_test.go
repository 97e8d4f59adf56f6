package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-retail/meridian/internal/inventory"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestFetchJSONCachesLoaderResult(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "analytics", "rotation", "-")
	require.NoError(t, err)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"value": 42}, nil
	}

	var first map[string]int
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.Equal(t, 42, first["value"])
	require.Equal(t, 1, calls)

	var second map[string]int
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 42, second["value"])
	require.Equal(t, 1, calls, "second fetch must hit the cache")
}

func TestBumpOrphansOldKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "analytics", "abc")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))

	after, err := cache.BuildKey(ctx, "analytics", "abc")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestNilCachePassesThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "analytics", "valuation")
	require.NoError(t, err)
	require.Equal(t, "analytics:valuation", key)

	var dest []int
	require.NoError(t, cache.FetchJSON(ctx, key, &dest, func(context.Context) (any, error) {
		return []int{1, 2, 3}, nil
	}))
	require.Equal(t, []int{1, 2, 3}, dest)
	require.NoError(t, cache.Bump(ctx))
}

func TestServiceUsesCacheAcrossCalls(t *testing.T) {
	repo := newMemoryRepo()
	branch := uuid.New()
	p := product(branch, "CACHED", 5, 0, 100, 200)
	repo.products = []inventory.Product{p}
	repo.sold = map[uuid.UUID]int64{p.ID: 90}
	svc := NewService(repo, newTestCache(t))
	ctx := context.Background()

	first, err := svc.ReorderSuggestions(ctx, &branch, 30)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Changing the underlying data without a version bump leaves the cached
	// report in place.
	repo.sold = map[uuid.UUID]int64{}
	second, err := svc.ReorderSuggestions(ctx, &branch, 30)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
