// Package quota enforces per-tier daily request limits.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/ttlcache"
)

// ErrQuotaExceeded is returned when a caller has no requests left today.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError carries the snapshot that caused the rejection.
type ExceededError struct {
	Snapshot models.QuotaSnapshot
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d used, resets at %s",
		e.Snapshot.DailyUsed, e.Snapshot.DailyLimit, e.Snapshot.ResetAt.Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrQuotaExceeded.
func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }

// Backend is the persistence the manager reads tiers and usage from.
type Backend interface {
	Tier(ctx context.Context, userID string) (models.Tier, error)
	CountUsage(ctx context.Context, userID, action string, since time.Time) (int, error)
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Manager answers quota questions from two independently cached facts: the
// caller's tier and today's usage count.
type Manager struct {
	backend Backend
	cfg     config.QuotaConfig
	now     func() time.Time

	tiers  *ttlcache.Cache[string, models.Tier]
	usage  *ttlcache.Cache[string, int]
	flight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source for day boundaries and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

const cacheSize = 10000

// New creates a Manager backed by b.
func New(b Backend, cfg config.QuotaConfig, opts ...Option) *Manager {
	m := &Manager{backend: b, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.tiers = ttlcache.New(cacheSize, cfg.TierTTL, ttlcache.WithClock[string, models.Tier](m.now))
	m.usage = ttlcache.New(cacheSize, cfg.UsageTTL, ttlcache.WithClock[string, int](m.now))
	return m
}

// DayStart returns the UTC midnight that starts the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Snapshot returns the caller's current quota position.
func (m *Manager) Snapshot(ctx context.Context, id models.CallerIdentity) (models.QuotaSnapshot, error) {
	tier, err := m.tier(ctx, id.ID)
	if err != nil {
		return models.QuotaSnapshot{}, fmt.Errorf("quota snapshot: %w", err)
	}
	day := DayStart(m.now())
	used, err := m.used(ctx, id.ID, day)
	if err != nil {
		return models.QuotaSnapshot{}, fmt.Errorf("quota snapshot: %w", err)
	}
	return Compute(tier, m.cfg.Limit(tier), used, day.Add(24*time.Hour)), nil
}

// Compute derives a snapshot from a tier limit and a usage count.
func Compute(tier models.Tier, limit, used int, resetAt time.Time) models.QuotaSnapshot {
	remaining := models.Unlimited
	if limit != models.Unlimited {
		remaining = max(0, limit-used)
	}
	return models.QuotaSnapshot{
		Tier:       tier,
		DailyLimit: limit,
		DailyUsed:  used,
		Remaining:  remaining,
		ResetAt:    resetAt,
	}
}

// HasQuota reports whether the caller may make another request.
func (m *Manager) HasQuota(ctx context.Context, id models.CallerIdentity) (bool, error) {
	s, err := m.Snapshot(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Remaining != 0, nil
}

// Check returns an *ExceededError when the caller has no quota left.
func (m *Manager) Check(ctx context.Context, id models.CallerIdentity) (models.QuotaSnapshot, error) {
	s, err := m.Snapshot(ctx, id)
	if err != nil {
		return s, err
	}
	if s.Remaining == 0 {
		return s, &ExceededError{Snapshot: s}
	}
	return s, nil
}

// RecordUsage appends a usage row for the caller. The cached count is
// dropped before the write so no reader keeps a pre-write count once the
// row lands.
func (m *Manager) RecordUsage(ctx context.Context, id models.CallerIdentity, rec models.UsageRecord) error {
	m.usage.Delete(usageKey(id.ID, DayStart(m.now())))

	rec.UserID = id.ID
	if rec.Action == "" {
		rec.Action = models.ActionParaphrase
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	if err := m.backend.Record(ctx, rec); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.Timeout)
}

func usageKey(userID string, day time.Time) string {
	return userID + "|" + day.Format("2006-01-02")
}

func (m *Manager) tier(ctx context.Context, userID string) (models.Tier, error) {
	if t, ok := m.tiers.Get(userID); ok {
		return t, nil
	}
	v, err, _ := m.flight.Do("tier|"+userID, func() (interface{}, error) {
		ctx, cancel := m.withTimeout(context.WithoutCancel(ctx))
		defer cancel()
		t, err := m.backend.Tier(ctx, userID)
		if err != nil {
			return nil, err
		}
		m.tiers.Set(userID, t)
		return t, nil
	})
	if err != nil {
		slog.Warn("tier lookup failed", "user", userID, "error", err)
		return "", fmt.Errorf("tier lookup: %w", err)
	}
	return v.(models.Tier), nil
}

func (m *Manager) used(ctx context.Context, userID string, day time.Time) (int, error) {
	key := usageKey(userID, day)
	if n, ok := m.usage.Get(key); ok {
		return n, nil
	}
	v, err, _ := m.flight.Do("usage|"+key, func() (interface{}, error) {
		ctx, cancel := m.withTimeout(context.WithoutCancel(ctx))
		defer cancel()
		n, err := m.backend.CountUsage(ctx, userID, models.ActionParaphrase, day)
		if err != nil {
			return nil, err
		}
		m.usage.Set(key, n)
		return n, nil
	})
	if err != nil {
		slog.Warn("usage count failed", "user", userID, "error", err)
		return 0, fmt.Errorf("usage count: %w", err)
	}
	return v.(int), nil
}
