package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) Store {
	t.Helper()
	s := NewInMemory(context.Background(), 10*time.Millisecond)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemorySetGetDelete(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	found, _, err := s.Get(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.Set(ctx, "map-data:abc", []byte("payload"), time.Minute))
	found, val, err := s.Get(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), val)

	existed, err := s.Delete(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryLazyExpiry(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	found, _, err := s.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)

	time.Sleep(40 * time.Millisecond)

	found, _, err = s.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	ok, err := s.Exists(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPrefixOperations(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "map-data:a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "map-data:b", []byte("2"), time.Minute))
	require.NoError(t, s.Set(ctx, "heatmap:a", []byte("3"), time.Minute))

	count, err := s.Count(ctx, "map-data:")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := s.DeleteByPrefix(ctx, "map-data:")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	found, _, err := s.Get(ctx, "heatmap:a")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryEmptyPrefixSparesLocks(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	_, ok, err := s.AcquireLock(ctx, "map-data:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Set(ctx, "map-data:a", []byte("1"), time.Minute))

	count, err := s.Count(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 1, count, "lock markers are not entries")

	n, err := s.DeleteByPrefix(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = s.AcquireLock(ctx, "map-data:a", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok, "full wipe leaves held locks in place")
}

func TestMemoryLockSemantics(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.AcquireLock(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.ReleaseLock(ctx, "k", "wrong"))
	_, ok, err = s.AcquireLock(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok, "wrong-token release must not free the lock")

	assert.NoError(t, s.ReleaseLock(ctx, "k", token))
	_, ok, err = s.AcquireLock(ctx, "k", 20*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, ok)

	// Lock expires on its own.
	time.Sleep(40 * time.Millisecond)
	_, ok, err = s.AcquireLock(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestMemorySweeper(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "map-data:a", []byte("1"), 15*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	// Count skips expired entries whether or not the sweeper ran.
	count, err := s.Count(ctx, "")
	assert.NoError(t, err)
	assert.Zero(t, count)
}
