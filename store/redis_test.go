package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedis(client, WithPrefix("test"))
}

func TestRedisSetGet(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	found, _, err := s.Get(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.Set(ctx, "map-data:abc", []byte("payload"), time.Minute))
	found, val, err := s.Get(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), val)

	ok, err := s.Exists(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRejectsNonPositiveTTL(t *testing.T) {
	_, s := newTestRedis(t)
	assert.Error(t, s.Set(context.Background(), "k", []byte("v"), 0))
	assert.Error(t, s.Set(context.Background(), "k", []byte("v"), -time.Second))
}

func TestRedisTTLExpiry(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "map-data:abc", []byte("payload"), time.Second))
	found, _, err := s.Get(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.True(t, found)

	mr.FastForward(2 * time.Second)

	found, _, err = s.Get(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisDelete(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "map-data:abc", []byte("x"), time.Minute))
	existed, err := s.Delete(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "map-data:abc")
	assert.NoError(t, err)
	assert.False(t, existed)
}

func TestRedisDeleteByPrefixScoping(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "map-data:a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "map-data:b", []byte("2"), time.Minute))
	require.NoError(t, s.Set(ctx, "heatmap:a", []byte("3"), time.Minute))

	n, err := s.DeleteByPrefix(ctx, "map-data:")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	found, _, err := s.Get(ctx, "heatmap:a")
	assert.NoError(t, err)
	assert.True(t, found, "other namespaces are untouched")

	count, err := s.Count(ctx, "map-data:")
	assert.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisPrefixSweepSparesLocks(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "map-data:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Set(ctx, "map-data:a", []byte("1"), time.Minute))

	_, err = s.DeleteByPrefix(ctx, "map-data:")
	assert.NoError(t, err)

	// The lock survived the sweep: a second acquire still fails.
	_, ok, err = s.AcquireLock(ctx, "map-data:a", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.ReleaseLock(ctx, "map-data:a", token))
}

func TestRedisEmptyPrefixSparesLocks(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "map-data:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Set(ctx, "map-data:a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "heatmap:b", []byte("2"), time.Minute))

	// The empty prefix matches everything, but lock markers are not entries.
	count, err := s.Count(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := s.DeleteByPrefix(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	// The full wipe left the held lock in place.
	_, ok, err = s.AcquireLock(ctx, "map-data:a", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.ReleaseLock(ctx, "map-data:a", token))
}

func TestRedisLockSemantics(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "map-data:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	// Second acquire while held fails.
	_, ok, err = s.AcquireLock(ctx, "map-data:abc", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	// Release with the wrong token is a no-op.
	assert.NoError(t, s.ReleaseLock(ctx, "map-data:abc", "wrong-token"))
	_, ok, err = s.AcquireLock(ctx, "map-data:abc", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	// Owner release frees the lock.
	assert.NoError(t, s.ReleaseLock(ctx, "map-data:abc", token))
	token2, ok, err := s.AcquireLock(ctx, "map-data:abc", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, token, token2)

	// A stuck lock frees itself via TTL.
	mr.FastForward(2 * time.Second)
	_, ok, err = s.AcquireLock(ctx, "map-data:abc", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()
	mr.Close()

	_, _, err := s.Get(ctx, "k")
	assert.True(t, IsUnavailable(err))

	err = s.Set(ctx, "k", []byte("v"), time.Minute)
	assert.True(t, IsUnavailable(err))

	_, _, err = s.AcquireLock(ctx, "k", time.Minute)
	assert.True(t, IsUnavailable(err))

	assert.True(t, IsUnavailable(s.Ping(ctx)))
}

func TestRedisPing(t *testing.T) {
	_, s := newTestRedis(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
