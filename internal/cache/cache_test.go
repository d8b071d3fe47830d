package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/dronewatch/internal/globaltime"
)

var base = time.Date(2026, 9, 22, 12, 0, 0, 0, time.UTC)

type failingStore struct {
	calls atomic.Int32
}

func (f *failingStore) Load(context.Context, time.Time) (map[string]struct{}, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func (f *failingStore) Add(context.Context, Entry) error {
	f.calls.Add(1)
	return errors.New("connection refused")
}

func (f *failingStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("connection refused")
}

func (f *failingStore) Close() error { return nil }

func TestMemoryStore_TTLAndCapacity(t *testing.T) {
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	ctx := context.Background()
	store := NewMemoryStore(2, time.Hour)

	require.NoError(t, store.Add(ctx, Entry{Hash: "a", SeenAt: base}))
	require.NoError(t, store.Add(ctx, Entry{Hash: "b", SeenAt: base}))
	require.NoError(t, store.Add(ctx, Entry{Hash: "a", SeenAt: base}))
	require.NoError(t, store.Add(ctx, Entry{Hash: "c", SeenAt: base}))
	assert.Equal(t, 2, store.Len(), "capacity bounds the set")

	hashes, err := store.Load(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Contains(t, hashes, "a", "recently touched entry survives eviction")
	assert.Contains(t, hashes, "c")
	assert.NotContains(t, hashes, "b")

	removed, err := store.DeleteBefore(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Add(ctx, Entry{Hash: "d", SeenAt: base}))
	globaltime.SetMockTime(base.Add(2 * time.Hour))
	hashes, err = store.Load(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, hashes, "entries past the TTL expire")
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	old := Entry{Hash: "old", Title: "Drone over Kastrup", OccurredAt: base, SourceName: "DR", SeenAt: base.Add(-40 * 24 * time.Hour)}
	fresh := Entry{Hash: "fresh", Title: "Drone over Aalborg", OccurredAt: base, SourceName: "TV2", SeenAt: base}
	require.NoError(t, store.Add(ctx, old))
	require.NoError(t, store.Add(ctx, fresh))
	require.NoError(t, store.Add(ctx, fresh), "re-adding is idempotent")

	hashes, err := store.Load(ctx, base.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"fresh": {}}, hashes)

	old.SeenAt = base
	require.NoError(t, store.Add(ctx, old), "re-adding refreshes seen_at")
	hashes, err = store.Load(ctx, base.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, hashes, 2)

	removed, err := store.DeleteBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
}

func TestCache_LoadAddContains(t *testing.T) {
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	c := New(store, 0, zerolog.Nop())
	defer c.Close()

	require.NoError(t, c.Load(ctx))
	assert.False(t, c.Contains("h1"))

	require.NoError(t, c.Add(ctx, "h1", "Drone over Billund", base, "JV"))
	assert.True(t, c.Contains("h1"))

	reloaded := New(store, 0, zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.Contains("h1"), "hashes persist across runs")
	assert.False(t, reloaded.Degraded())
}

func TestCache_DegradesOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	c := New(store, time.Hour, zerolog.Nop())

	require.NoError(t, c.Load(ctx), "load failure is not an ingestion failure")
	assert.True(t, c.Degraded())

	require.NoError(t, c.Add(ctx, "h1", "Drone", base, "DR"))
	require.NoError(t, c.Add(ctx, "h2", "Drone", base, "DR"))
	assert.True(t, c.Contains("h1"))
	assert.EqualValues(t, 1, store.calls.Load(), "store is not retried once degraded")

	require.NoError(t, c.Load(ctx))
	assert.True(t, c.Contains("h2"), "run-scoped set survives a reload")
}

func TestCache_CancelledLoad(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(&failingStore{}, time.Hour, zerolog.Nop())
	require.ErrorIs(t, c.Load(ctx), context.Canceled)
	assert.False(t, c.Degraded())
}

func TestCache_CleanupWaitsForBatch(t *testing.T) {
	ctx := context.Background()
	c := New(nil, time.Hour, zerolog.Nop())

	release := c.BeginBatch()
	done := make(chan struct{})
	go func() {
		_, _ = c.Cleanup(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("cleanup ran during an active batch")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not run after the batch released")
	}
}

func TestCache_CleanupPrunesOldEntries(t *testing.T) {
	ctx := context.Background()
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, Entry{Hash: "stale", SeenAt: base.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, store.Add(ctx, Entry{Hash: "recent", SeenAt: base.Add(-time.Hour)}))

	c := New(store, DefaultRetention, zerolog.Nop())
	defer c.Close()

	removed, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
