// Package cache is the two-tier response cache: an in-process TTL map in
// front of a persistent Store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"

	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/metrics"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/ttlcache"
)

// Store is the persistent tier.
type Store interface {
	Get(ctx context.Context, hash string, mode models.Mode) (models.CachedResult, bool, error)
	Put(ctx context.Context, r models.CachedResult) error
	IncrementHits(ctx context.Context, hash string, mode models.Mode) error
}

// Normalize trims and case-folds text for keying.
func Normalize(text string) string {
	return cases.Fold().String(strings.TrimSpace(text))
}

// Key returns the cache key of (text, mode).
func Key(text string, mode models.Mode) string {
	h := sha256.New()
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache never returns errors: a failing store degrades to a miss.
type Cache struct {
	memory  *ttlcache.Cache[string, models.CachedResult]
	store   Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	wg     sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache. store may be nil for a memory-only cache.
func New(store Store, cfg config.CacheConfig, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.memory = ttlcache.New(cfg.MemorySize, cfg.MemoryTTL, ttlcache.WithClock[string, models.CachedResult](c.now))
	return c
}

func (c *Cache) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func memKey(hash string, mode models.Mode) string {
	return string(mode) + "|" + hash
}

// Get looks up (text, mode) in memory, then in the store.
func (c *Cache) Get(ctx context.Context, text string, mode models.Mode) (models.CachedResult, bool) {
	hash := Key(text, mode)
	if r, ok := c.memory.Get(memKey(hash, mode)); ok {
		metrics.CacheLookups.WithLabelValues("memory", "hit").Inc()
		c.hits.Add(1)
		return r, true
	}
	metrics.CacheLookups.WithLabelValues("memory", "miss").Inc()

	if c.store == nil {
		c.misses.Add(1)
		return models.CachedResult{}, false
	}

	sctx, cancel := c.storeCtx(ctx)
	r, ok, err := c.store.Get(sctx, hash, mode)
	cancel()
	if err != nil {
		metrics.CacheLookups.WithLabelValues("store", "error").Inc()
		slog.Warn("cache read failed", "mode", mode, "error", err)
		c.misses.Add(1)
		return models.CachedResult{}, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("store", "miss").Inc()
		c.misses.Add(1)
		return models.CachedResult{}, false
	}

	metrics.CacheLookups.WithLabelValues("store", "hit").Inc()
	c.hits.Add(1)
	c.memory.Set(memKey(hash, mode), r)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ictx, cancel := c.storeCtx(context.WithoutCancel(ctx))
		defer cancel()
		if err := c.store.IncrementHits(ictx, hash, mode); err != nil {
			slog.Warn("cache hit increment failed", "mode", mode, "error", err)
		}
	}()
	return r, true
}

// Put stores a result for (text, mode) in memory and in the store.
func (c *Cache) Put(ctx context.Context, text string, mode models.Mode, res models.GenerationResult) {
	now := c.now()
	r := models.CachedResult{
		InputHash:  Key(text, mode),
		Mode:       mode,
		OutputText: res.Text,
		ModelUsed:  res.ModelUsed,
		TokensUsed: res.TotalTokens,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}
	c.memory.Set(memKey(r.InputHash, mode), r)

	if c.store == nil {
		return
	}
	sctx, cancel := c.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := c.store.Put(sctx, r); err != nil {
		slog.Warn("cache write failed", "mode", mode, "error", err)
	}
}

// Stats returns in-process hit/miss counts and the memory tier size.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries: int64(c.memory.Len()),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Wait blocks until background hit increments finish.
func (c *Cache) Wait() {
	c.wg.Wait()
}
