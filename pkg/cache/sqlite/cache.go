// Package sqlite is the persistent response cache tier backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/rephrase/pkg/models"
)

// Store keeps rewrite results keyed by (input_hash, mode) with an expiry.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	input_hash TEXT NOT NULL,
	mode TEXT NOT NULL,
	output_text TEXT NOT NULL,
	model_used TEXT NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (input_hash, mode)
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at);
`

// New opens the store at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Get returns the unexpired entry for (hash, mode).
func (s *Store) Get(ctx context.Context, hash string, mode models.Mode) (models.CachedResult, bool, error) {
	var (
		r                  models.CachedResult
		created, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT input_hash, mode, output_text, model_used, tokens_used, hit_count, created_at, expires_at
		 FROM response_cache WHERE input_hash = ? AND mode = ? AND expires_at > ?`,
		hash, string(mode), s.now().UnixMilli(),
	).Scan(&r.InputHash, &r.Mode, &r.OutputText, &r.ModelUsed, &r.TokensUsed, &r.HitCount, &created, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return models.CachedResult{}, false, nil
	}
	if err != nil {
		return models.CachedResult{}, false, fmt.Errorf("cache get: %w", err)
	}

	s.hits.Add(1)
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return r, true, nil
}

// Put stores r, replacing any previous entry. The hit count restarts at zero.
func (s *Store) Put(ctx context.Context, r models.CachedResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_cache (input_hash, mode, output_text, model_used, tokens_used, hit_count, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		r.InputHash, string(r.Mode), r.OutputText, r.ModelUsed, r.TokensUsed,
		r.CreatedAt.UnixMilli(), r.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// IncrementHits bumps the persistent hit counter of an entry.
func (s *Store) IncrementHits(ctx context.Context, hash string, mode models.Mode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE response_cache SET hit_count = hit_count + 1 WHERE input_hash = ? AND mode = ?`,
		hash, string(mode),
	)
	if err != nil {
		return fmt.Errorf("cache hit increment: %w", err)
	}
	return nil
}

// Stats returns entry count and this process's hit/miss counters.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM response_cache WHERE expires_at > ?`, s.now().UnixMilli(),
	).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

// TotalHits sums the persistent hit counters of unexpired entries.
func (s *Store) TotalHits(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(hit_count), 0) FROM response_cache WHERE expires_at > ?`, s.now().UnixMilli(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cache total hits: %w", err)
	}
	return total, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		res, err = s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at <= ?`, s.now().UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM response_cache`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
