package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(now *time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = func() time.Time { return *now }
	return s
}

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(&now)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	now = now.Add(time.Minute)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "entry should expire at its ttl")
}

func TestMemoryStore_InvalidateTags(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := newTestStore(&now)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Hour, NewsletterTag("n1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour, NewsletterTag("n1"), CompanyTag("c1")))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Hour, CompanyTag("c1")))

	require.NoError(t, s.InvalidateTags(ctx, NewsletterTag("n1")))

	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryStore_SetReplacesTags(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0, "old"))
	require.NoError(t, s.Set(ctx, "a", []byte("2"), 0, "new"))
	require.NoError(t, s.InvalidateTags(ctx, "old"))

	val, ok, _ := s.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), val)
}

func TestMemoryStore_Acquire(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := newTestStore(&now)

	release, err := s.Acquire(ctx, "gen:1", time.Minute)
	require.NoError(t, err)

	_, err = s.Acquire(ctx, "gen:1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	release2, err := s.Acquire(ctx, "gen:1", time.Minute)
	require.NoError(t, err)

	// A stale release must not drop a newer holder's lock.
	release()
	_, err = s.Acquire(ctx, "gen:1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	release2()

	_, err = s.Acquire(ctx, "gen:2", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = s.Acquire(ctx, "gen:2", time.Second)
	assert.NoError(t, err, "expired lock can be re-acquired")
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "nl:entry:newsletter:1", entryKey("newsletter:1"))
	assert.Equal(t, "nl:tag:company:2", tagKey(CompanyTag("2")))
	assert.Equal(t, "nl:lock:gen", lockKey("gen"))
}
