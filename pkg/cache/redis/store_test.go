package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/rephrase/pkg/models"
)

// newTestStore runs the store against an in-process Redis.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := New(client)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "rephrase:cache:formal:abc", key("abc", models.ModeFormal))
	assert.NotEqual(t, key("abc", models.ModeFormal), key("abc", models.ModeFriendly))
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), mr.Addr(), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), "127.0.0.1:1", 0)
	assert.Error(t, err)
}

func TestPutGetIncrement(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, models.CachedResult{
		InputHash:  "h1",
		Mode:       models.ModeFormal,
		OutputText: "Добрый день",
		ModelUsed:  "gpt-4o-mini",
		TokensUsed: 12,
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, s.IncrementHits(ctx, "h1", models.ModeFormal))
	r, ok, err := s.Get(ctx, "h1", models.ModeFormal)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Добрый день", r.OutputText)
	assert.Equal(t, 12, r.TokensUsed)
	assert.Equal(t, int64(1), r.HitCount)

	_, ok, err = s.Get(ctx, "h1", models.ModeConcise)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementMissingKeyCreatesNothing(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementHits(ctx, "missing", models.ModeFormal))
	assert.False(t, mr.Exists(key("missing", models.ModeFormal)))
}

func TestIncrementAfterExpiryCreatesNothing(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, models.CachedResult{
		InputHash:  "h1",
		Mode:       models.ModeFormal,
		OutputText: "Добрый день",
		ExpiresAt:  time.Now().Add(time.Second),
	}))
	mr.FastForward(2 * time.Second)

	require.NoError(t, s.IncrementHits(ctx, "h1", models.ModeFormal))
	assert.False(t, mr.Exists(key("h1", models.ModeFormal)))

	_, ok, err := s.Get(ctx, "h1", models.ModeFormal)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncompleteHashIsMiss(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.HSet(key("h1", models.ModeFormal), "hit_count", "3")
	_, ok, err := s.Get(ctx, "h1", models.ModeFormal)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.HSet(key("h2", models.ModeFormal), "output_text", "x", "hit_count", "1")
	_, ok, err = s.Get(ctx, "h2", models.ModeFormal)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredByClock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, models.CachedResult{
		InputHash:  "h1",
		Mode:       models.ModeFormal,
		OutputText: "x",
		ExpiresAt:  now.Add(time.Minute),
	}))
	now = now.Add(2 * time.Minute)
	_, ok, err := s.Get(ctx, "h1", models.ModeFormal)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatsAndClear(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"h1", "h2"} {
		require.NoError(t, s.Put(ctx, models.CachedResult{
			InputHash:  h,
			Mode:       models.ModeFormal,
			OutputText: "x",
			ExpiresAt:  time.Now().Add(time.Hour),
		}))
	}
	require.NoError(t, s.IncrementHits(ctx, "h1", models.ModeFormal))
	require.NoError(t, s.IncrementHits(ctx, "h1", models.ModeFormal))
	mr.Set("unrelated", "keep")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Entries)
	hits, err := s.TotalHits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits)

	n, err := s.Clear(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Clear(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("unrelated"))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}
