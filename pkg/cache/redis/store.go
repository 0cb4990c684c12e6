// Package redis is a persistent response cache tier backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/rephrase/pkg/models"
)

const keyPrefix = "rephrase:cache:"

// Store keeps each entry as a hash that expires with the entry.
type Store struct {
	client *goredis.Client
	now    func() time.Time
}

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr string, db int) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(client *goredis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func key(hash string, mode models.Mode) string {
	return keyPrefix + string(mode) + ":" + hash
}

// Get returns the entry for (hash, mode) if present and unexpired.
func (s *Store) Get(ctx context.Context, hash string, mode models.Mode) (models.CachedResult, bool, error) {
	vals, err := s.client.HGetAll(ctx, key(hash, mode)).Result()
	if err != nil {
		return models.CachedResult{}, false, fmt.Errorf("redis get: %w", err)
	}
	// A hash without its payload or expiry is not a complete entry.
	if _, ok := vals["output_text"]; !ok {
		return models.CachedResult{}, false, nil
	}
	if _, ok := vals["expires_at"]; !ok {
		return models.CachedResult{}, false, nil
	}

	r := models.CachedResult{
		InputHash:  hash,
		Mode:       mode,
		OutputText: vals["output_text"],
		ModelUsed:  vals["model_used"],
	}
	r.TokensUsed, _ = strconv.Atoi(vals["tokens_used"])
	r.HitCount, _ = strconv.ParseInt(vals["hit_count"], 10, 64)
	if ms, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		r.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(vals["expires_at"], 10, 64); err == nil {
		r.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	if r.ExpiresAt.IsZero() || !s.now().Before(r.ExpiresAt) {
		return models.CachedResult{}, false, nil
	}
	return r, true, nil
}

// Put stores r and sets the key to expire at r.ExpiresAt.
func (s *Store) Put(ctx context.Context, r models.CachedResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	k := key(r.InputHash, r.Mode)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k,
			"output_text", r.OutputText,
			"model_used", r.ModelUsed,
			"tokens_used", r.TokensUsed,
			"hit_count", 0,
			"created_at", r.CreatedAt.UnixMilli(),
			"expires_at", r.ExpiresAt.UnixMilli(),
		)
		p.ExpireAt(ctx, k, r.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// incrementHits bumps hit_count only while the entry exists, so a key that
// expired between lookup and increment is never recreated.
var incrementHits = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
end
return 0
`)

// IncrementHits bumps the hit counter of an existing entry.
func (s *Store) IncrementHits(ctx context.Context, hash string, mode models.Mode) error {
	if err := incrementHits.Run(ctx, s.client, []string{key(hash, mode)}).Err(); err != nil {
		return fmt.Errorf("redis hit increment: %w", err)
	}
	return nil
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Stats returns the number of live entries. Redis drops expired entries
// itself, so every scanned key counts.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	return models.CacheStats{Entries: int64(len(keys))}, nil
}

// TotalHits sums the hit counters of live entries.
func (s *Store) TotalHits(ctx context.Context) (int64, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		n, err := s.client.HGet(ctx, k, "hit_count").Int64()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("redis hit count: %w", err)
		}
		total += n
	}
	return total, nil
}

// Clear removes cache entries. Expired entries are already gone in Redis,
// so expiredOnly removes nothing.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	if expiredOnly {
		return 0, nil
	}
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis clear: %w", err)
	}
	return n, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
