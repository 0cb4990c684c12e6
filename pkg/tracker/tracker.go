// Package tracker is the SQLite persistence backend for caller profiles and
// the append-only usage log.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/rephrase/pkg/models"
)

// Tracker stores subscription profiles and usage rows.
type Tracker interface {
	// Tier returns the caller's tier in force now. Unknown callers are free.
	Tier(ctx context.Context, userID string) (models.Tier, error)
	// CountUsage counts usage rows for a caller and action since a given time.
	CountUsage(ctx context.Context, userID, action string, since time.Time) (int, error)
	// Record appends a usage row.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByUser returns usage rows for a caller since a given time, newest first.
	QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error)
	// Summary returns usage aggregated by user and model, optionally filtered by user.
	Summary(ctx context.Context, userID string) ([]models.UsageSummary, error)
	// CostReport returns token totals per model since a given time, priced with pricing.
	CostReport(ctx context.Context, since time.Time, pricing []models.ModelPricing) ([]models.CostReport, error)
	// SetProfile creates or replaces a caller's profile.
	SetProfile(ctx context.Context, p models.Profile) error
	// GetProfile returns a caller's profile, or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	// Close releases resources.
	Close() error
}

// ErrNotFound is returned when a profile does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db  *sql.DB
	now func() time.Time
}

const createProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT 'free',
	tier_expires_at INTEGER,
	updated_at INTEGER NOT NULL
);
`

const createUsageLog = `
CREATE TABLE IF NOT EXISTS usage_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cached INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_action_time ON usage_log(user_id, action, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createProfiles); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate profiles table: %w", err)
	}

	if _, err := db.Exec(createUsageLog); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage table: %w", err)
	}

	// Add latency_ms column to usage_log if missing.
	if !columnExists(db, "usage_log", "latency_ms") {
		if _, err := db.Exec(`ALTER TABLE usage_log ADD COLUMN latency_ms INTEGER NOT NULL DEFAULT 0`); err != nil {
			db.Close()
			return nil, fmt.Errorf("add latency_ms column: %w", err)
		}
	}

	return &SQLiteTracker{db: db, now: time.Now}, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Tier returns the caller's effective tier. A paid tier past its expiry
// resolves to free.
func (t *SQLiteTracker) Tier(ctx context.Context, userID string) (models.Tier, error) {
	p, err := t.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return models.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return p.EffectiveTier(t.now()), nil
}

// CountUsage counts usage rows for a caller and action since a given time.
func (t *SQLiteTracker) CountUsage(ctx context.Context, userID, action string, since time.Time) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_log WHERE user_id = ? AND action = ? AND created_at >= ?`,
		userID, action, millis(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Record appends a usage row.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_log (user_id, action, mode, model, request_id, prompt_tokens, completion_tokens, total_tokens, cached, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Action, string(rec.Mode), rec.Model, rec.RequestID,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, boolInt(rec.Cached), rec.LatencyMs,
		millis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByUser returns usage rows for a caller since a given time, newest first.
func (t *SQLiteTracker) QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, user_id, action, mode, model, request_id, prompt_tokens, completion_tokens, total_tokens, cached, latency_ms, created_at
		 FROM usage_log WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		userID, millis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var (
			r       models.UsageRecord
			mode    string
			cached  int
			created int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Action, &mode, &r.Model, &r.RequestID,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &cached, &r.LatencyMs, &created); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Mode = models.Mode(mode)
		r.Cached = cached != 0
		r.CreatedAt = fromMillis(created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns aggregated usage grouped by user and model.
func (t *SQLiteTracker) Summary(ctx context.Context, userID string) ([]models.UsageSummary, error) {
	query := `SELECT user_id, model, COUNT(*), SUM(cached), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
		 FROM usage_log`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY user_id, model ORDER BY user_id, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.UserID, &s.Model, &s.RequestCount, &s.CachedCount, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// CostReport returns token totals per model since a given time. Cache hits
// are excluded since they never reached a provider.
func (t *SQLiteTracker) CostReport(ctx context.Context, since time.Time, pricing []models.ModelPricing) ([]models.CostReport, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
		 FROM usage_log WHERE cached = 0 AND created_at >= ?
		 GROUP BY model ORDER BY model`,
		millis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("cost report: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]models.ModelPricing, len(pricing))
	for _, p := range pricing {
		prices[p.Model] = p
	}

	var reports []models.CostReport
	for rows.Next() {
		var r models.CostReport
		if err := rows.Scan(&r.Model, &r.RequestCount, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan cost report: %w", err)
		}
		if p, ok := prices[r.Model]; ok {
			r.EstimatedCost = float64(r.PromptTokens)/1000*p.PromptCost + float64(r.CompletionTokens)/1000*p.CompletionCost
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SetProfile creates or replaces a caller's profile.
func (t *SQLiteTracker) SetProfile(ctx context.Context, p models.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = t.now()
	}
	var expires sql.NullInt64
	if p.TierExpiresAt != nil {
		expires = sql.NullInt64{Int64: millis(*p.TierExpiresAt), Valid: true}
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, email, tier, tier_expires_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET email = excluded.email, tier = excluded.tier,
		 tier_expires_at = excluded.tier_expires_at, updated_at = excluded.updated_at`,
		p.UserID, p.Email, string(p.Tier), expires, millis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}

// GetProfile returns a caller's profile, or ErrNotFound.
func (t *SQLiteTracker) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var (
		p       models.Profile
		tier    string
		expires sql.NullInt64
		updated int64
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT user_id, email, tier, tier_expires_at, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.Email, &tier, &expires, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, fmt.Errorf("profile %q: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.Tier = models.Tier(tier)
	if expires.Valid {
		ts := fromMillis(expires.Int64)
		p.TierExpiresAt = &ts
	}
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
