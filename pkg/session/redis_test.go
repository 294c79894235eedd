package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStoreWithClient(client, ttl), mr
}

func TestRedisStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, time.Hour)

	require.NoError(t, store.Set(ctx, "sid-1", "k", []byte("v")))

	value, err := store.Get(ctx, "sid-1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	_, err = store.Get(ctx, "sid-1", "missing")
	assert.ErrorIs(t, err, ErrNoValue)

	_, err = store.Get(ctx, "no-such-session", "k")
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestRedisStoreDeleteAndDestroy(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Hour)

	require.NoError(t, store.Set(ctx, "sid-1", "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "sid-1", "b", []byte("2")))

	require.NoError(t, store.Delete(ctx, "sid-1", "a"))
	_, err := store.Get(ctx, "sid-1", "a")
	assert.ErrorIs(t, err, ErrNoValue)

	require.NoError(t, store.Destroy(ctx, "sid-1"))
	assert.False(t, mr.Exists("signon:session:sid-1"))
}

func TestRedisStoreTTLRefreshOnWrite(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Minute)

	require.NoError(t, store.Set(ctx, "sid-1", "k", []byte("v")))

	mr.FastForward(45 * time.Second)
	require.NoError(t, store.Set(ctx, "sid-1", "k2", []byte("v2")))

	// The earlier write would have expired by now without the refresh.
	mr.FastForward(45 * time.Second)
	value, err := store.Get(ctx, "sid-1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "sid-1", "k")
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{URL: "not-a-url"}, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}
