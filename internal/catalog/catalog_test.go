package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func newMongoStore(t *testing.T) Store {
	t.Helper()
	client, err := database.NewMemoryCluster().Connect(context.Background(), database.ConnectOptions{})
	require.NoError(t, err)
	return NewMongoStore(func(context.Context) (database.Collection, error) {
		return client.Database(MetaDatabase).Collection(CacheCollection), nil
	})
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "argus")
}

func TestStores(t *testing.T) {
	stores := map[string]func(*testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"mongo":  newMongoStore,
		"redis":  newRedisStore,
	}

	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			entry, err := store.Get(ctx, LibrariesKey)
			require.NoError(t, err)
			assert.Nil(t, entry)

			// incremental updates never create the entry
			require.NoError(t, store.Append(ctx, LibrariesKey, "a"))
			entry, err = store.Get(ctx, LibrariesKey)
			require.NoError(t, err)
			assert.Nil(t, entry)

			stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			require.NoError(t, store.Set(ctx, LibrariesKey, Entry{Data: []string{"a", "b"}, Date: stamp}))
			require.NoError(t, store.Append(ctx, LibrariesKey, "c"))
			require.NoError(t, store.Append(ctx, LibrariesKey, "c"))
			require.NoError(t, store.Remove(ctx, LibrariesKey, "b"))
			require.NoError(t, store.Replace(ctx, LibrariesKey, "a", "d"))

			entry, err = store.Get(ctx, LibrariesKey)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.ElementsMatch(t, []string{"c", "d"}, entry.Data)
			assert.True(t, stamp.Equal(entry.Date))
		})
	}
}

func TestLookupFreshness(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := New(NewMemoryStore(), WithClock(clock.Now), WithExpiry(time.Hour))

	_, result := cache.Lookup(ctx, LibrariesKey, 0)
	assert.Equal(t, Miss, result)

	require.NoError(t, cache.Set(ctx, LibrariesKey, []string{"a"}))

	clock.now = clock.now.Add(time.Hour - time.Millisecond)
	data, result := cache.Lookup(ctx, LibrariesKey, 0)
	assert.Equal(t, Hit, result)
	assert.Equal(t, []string{"a"}, data)

	clock.now = clock.now.Add(2 * time.Millisecond)
	_, result = cache.Lookup(ctx, LibrariesKey, 0)
	assert.Equal(t, Stale, result)

	// caller supplied threshold wins over the default expiry
	_, result = cache.Lookup(ctx, LibrariesKey, 2*time.Hour)
	assert.Equal(t, Hit, result)

	stale, err := cache.IsStale(ctx, LibrariesKey, 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, stale)
	stale, err = cache.IsStale(ctx, "missing", time.Hour)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestDisabledCacheBypassesReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cache := New(store)
	require.NoError(t, cache.Set(ctx, LibrariesKey, []string{"a"}))

	cache.SetCachingState(false)
	_, result := cache.Lookup(ctx, LibrariesKey, 0)
	assert.Equal(t, Disabled, result)
	_, ok, err := cache.Get(ctx, LibrariesKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, LibrariesKey, []string{"x"}))
	require.NoError(t, cache.Append(ctx, LibrariesKey, "y"))

	cache.SetCachingState(true)
	data, ok, err := cache.Get(ctx, LibrariesKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, data)
}
