package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	require.NoError(t, store.Set(ctx, "sid-1", "k", []byte("v")))

	value, err := store.Get(ctx, "sid-1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	_, err = store.Get(ctx, "sid-1", "missing")
	assert.ErrorIs(t, err, ErrNoValue)

	_, err = store.Get(ctx, "sid-other", "k")
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	require.NoError(t, store.Set(ctx, "sid-1", "k", []byte("v")))
	require.NoError(t, store.Delete(ctx, "sid-1", "k"))

	_, err := store.Get(ctx, "sid-1", "k")
	assert.ErrorIs(t, err, ErrNoValue)

	// Deleting an absent key is fine.
	assert.NoError(t, store.Delete(ctx, "sid-1", "never-set"))
	assert.NoError(t, store.Delete(ctx, "no-such-session", "k"))
}

func TestMemoryStoreDestroy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	require.NoError(t, store.Set(ctx, "sid-1", "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "sid-1", "b", []byte("2")))
	require.NoError(t, store.Destroy(ctx, "sid-1"))

	_, err := store.Get(ctx, "sid-1", "a")
	assert.ErrorIs(t, err, ErrNoValue)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Set(ctx, "sid-1", "k", []byte("v")))

	// Within the TTL the value is visible.
	current = current.Add(30 * time.Second)
	_, err := store.Get(ctx, "sid-1", "k")
	require.NoError(t, err)

	// Past the TTL the session reads as gone even before a sweep.
	current = current.Add(2 * time.Minute)
	_, err = store.Get(ctx, "sid-1", "k")
	assert.ErrorIs(t, err, ErrNoValue)

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreSweepKeepsLiveSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Set(ctx, "old", "k", []byte("v")))
	current = current.Add(45 * time.Second)
	require.NoError(t, store.Set(ctx, "fresh", "k", []byte("v")))
	current = current.Add(30 * time.Second)

	assert.Equal(t, 1, store.Sweep())

	_, err := store.Get(ctx, "fresh", "k")
	assert.NoError(t, err)
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sid, err := NewSessionID()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(sid), 40)
		assert.False(t, seen[sid], "session IDs must not repeat")
		seen[sid] = true
	}
}
