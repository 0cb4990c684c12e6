package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/rephrase/pkg/cache/sqlite"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
)

func TestKeyDeterminism(t *testing.T) {
	assert.Equal(t, Key(" Hello World ", models.ModeFormal), Key("hello world", models.ModeFormal))
	assert.Equal(t, Key("ПРИВЕТ", models.ModeFormal), Key("привет", models.ModeFormal))
	assert.NotEqual(t, Key("hello", models.ModeFormal), Key("hello", models.ModeFriendly))
	assert.NotEqual(t, Key("hello world", models.ModeFormal), Key("hello  world", models.ModeFormal))
	assert.Len(t, Key("x", models.ModeSimple), 64)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "привет мир", Normalize("  ПРИВЕТ Мир\n"))
}

// fakeStore is an in-memory Store with switchable failures.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]models.CachedResult
	gets     int
	incs     int
	failGet  bool
	failPut  bool
	failIncr bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]models.CachedResult)}
}

func (s *fakeStore) Get(_ context.Context, hash string, mode models.Mode) (models.CachedResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet {
		return models.CachedResult{}, false, errors.New("store down")
	}
	r, ok := s.rows[string(mode)+hash]
	return r, ok, nil
}

func (s *fakeStore) Put(_ context.Context, r models.CachedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("store down")
	}
	s.rows[string(r.Mode)+r.InputHash] = r
	return nil
}

func (s *fakeStore) IncrementHits(_ context.Context, hash string, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incs++
	if s.failIncr {
		return errors.New("store down")
	}
	r := s.rows[string(mode)+hash]
	r.HitCount++
	s.rows[string(mode)+hash] = r
	return nil
}

var result = models.GenerationResult{Text: "Здравствуйте.", ModelUsed: "gpt-4o-mini", TotalTokens: 30}

func TestPutThenGetFromMemory(t *testing.T) {
	store := newFakeStore()
	c := New(store, config.Default().Cache)
	ctx := context.Background()

	c.Put(ctx, "Привет", models.ModeFormal, result)
	r, ok := c.Get(ctx, "  привет ", models.ModeFormal)
	require.True(t, ok)
	assert.Equal(t, "Здравствуйте.", r.OutputText)
	assert.Equal(t, 30, r.TokensUsed)
	assert.Equal(t, 0, store.gets, "memory hit must not touch the store")

	_, ok = c.Get(ctx, "Привет", models.ModeFriendly)
	assert.False(t, ok)
}

func TestStoreHitPromotesAndCounts(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := newFakeStore()
	c := New(store, config.Default().Cache, WithClock(clock))
	ctx := context.Background()

	c.Put(ctx, "Привет", models.ModeFormal, result)
	now = now.Add(11 * time.Minute) // past memory TTL, within store TTL

	_, ok := c.Get(ctx, "Привет", models.ModeFormal)
	require.True(t, ok)
	c.Wait()
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, 1, store.incs)

	_, ok = c.Get(ctx, "Привет", models.ModeFormal)
	require.True(t, ok)
	c.Wait()
	assert.Equal(t, 1, store.gets, "promoted entry should be served from memory")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
}

func TestStoreFailuresAreSwallowed(t *testing.T) {
	store := newFakeStore()
	store.failPut = true
	store.failGet = true
	c := New(store, config.Default().Cache)
	ctx := context.Background()

	c.Put(ctx, "a", models.ModeFormal, result)
	// Memory tier still serves the write.
	_, ok := c.Get(ctx, "a", models.ModeFormal)
	assert.True(t, ok)

	_, ok = c.Get(ctx, "b", models.ModeFormal)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestIncrementFailureDoesNotAffectRead(t *testing.T) {
	store := newFakeStore()
	store.failIncr = true
	now := time.Now()
	c := New(store, config.Default().Cache, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.Put(ctx, "a", models.ModeFormal, result)
	now = now.Add(time.Hour)
	r, ok := c.Get(ctx, "a", models.ModeFormal)
	c.Wait()
	require.True(t, ok)
	assert.Equal(t, "Здравствуйте.", r.OutputText)
}

func TestMemoryOnly(t *testing.T) {
	c := New(nil, config.Default().Cache)
	ctx := context.Background()
	c.Put(ctx, "a", models.ModeFormal, result)
	_, ok := c.Get(ctx, "a", models.ModeFormal)
	assert.True(t, ok)
	_, ok = c.Get(ctx, "b", models.ModeFormal)
	assert.False(t, ok)
}

func TestWithSQLiteStore(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	writer := New(store, config.Default().Cache)
	writer.Put(ctx, "Привет", models.ModeFormal, result)

	// A second process instance only shares the persistent tier.
	reader := New(store, config.Default().Cache)
	r, ok := reader.Get(ctx, "ПРИВЕТ", models.ModeFormal)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", r.ModelUsed)
	reader.Wait()

	row, ok, err := store.Get(ctx, Key("Привет", models.ModeFormal), models.ModeFormal)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.HitCount)
}
