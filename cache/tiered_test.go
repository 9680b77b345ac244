package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestTiered(t *testing.T, threshold int) *Tiered {
	t.Helper()
	return NewTiered(NewL1(100), openTestStore(t), threshold, time.Hour, discardLogger())
}

func TestTiered_WriteThroughRoundTrip(t *testing.T) {
	tc := newTestTiered(t, 4096)
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("value"), time.Minute)

	got, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, []byte("value"), got)
}

func TestTiered_L2HitPromotesIntoL1(t *testing.T) {
	store := openTestStore(t)
	first := NewTiered(NewL1(100), store, 4096, time.Hour, discardLogger())
	ctx := context.Background()

	first.Set(ctx, "k", []byte("shared"), time.Minute)

	// A second instance with a cold L1 must find the value in L2.
	second := NewTiered(NewL1(100), store, 4096, time.Hour, discardLogger())
	got, ok := second.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, []byte("shared"), got)

	// And the promotion makes the next read an L1 hit.
	_, ok = second.Get(ctx, "k")
	require.True(t, ok)
	_, hits, _ := second.l1.Stats()
	require.Equal(t, int64(1), hits)
}

func TestTiered_LargeValuesCompressedAndRecovered(t *testing.T) {
	tc := newTestTiered(t, 64)
	ctx := context.Background()

	value := bytes.Repeat([]byte("searchrelay "), 100)
	tc.Set(ctx, "big", value, time.Minute)

	// Force the L2 path.
	tc.l1.Clear()
	got, ok := tc.Get(ctx, "big")
	require.True(t, ok)
	require.Equal(t, value, got)

	stats := tc.Stats()
	require.Greater(t, stats.CompressionRatio, 0.0)
	require.Less(t, stats.CompressionRatio, 1.0)
}

func TestTiered_ExpiredL2ValueIsAMiss(t *testing.T) {
	tc := newTestTiered(t, 4096)
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	tc.l1.Clear()
	time.Sleep(20 * time.Millisecond)

	_, ok := tc.Get(ctx, "k")
	require.False(t, ok)
}

func TestTiered_BatchRoundTrip(t *testing.T) {
	tc := newTestTiered(t, 4096)
	ctx := context.Background()

	tc.SetMany(ctx, []BatchEntry{
		{Key: "a", Value: []byte("1"), TTL: time.Minute},
		{Key: "b", Value: []byte("2"), TTL: time.Minute},
	})
	tc.l1.Clear()

	got := tc.GetMany(ctx, []string{"a", "b", "missing"})
	require.Len(t, got, 2)
	require.Equal(t, []byte("1"), got["a"])
	require.Equal(t, []byte("2"), got["b"])
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) GetMany(context.Context, []string) (map[string][]byte, error) {
	return nil, errors.New("store down")
}

func (failingStore) SetMany(context.Context, []BatchEntry) error {
	return errors.New("store down")
}

func (failingStore) PurgeExpired(context.Context) (int64, error) {
	return 0, errors.New("store down")
}

func (failingStore) Close() error { return nil }

func TestTiered_L2FailuresDegradeNotBreak(t *testing.T) {
	tc := NewTiered(NewL1(100), failingStore{}, 4096, time.Hour, discardLogger())
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("v"), time.Minute)

	// L1 still serves the value despite the broken store.
	got, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)

	tc.l1.Clear()
	_, ok = tc.Get(ctx, "k")
	require.False(t, ok)

	// Maintenance must survive a broken store too.
	tc.Maintain(ctx)
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", []byte("x"), 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, "new", []byte("y"), time.Minute))
	time.Sleep(20 * time.Millisecond)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	got, err := store.Get(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, []byte("y"), got)
}
