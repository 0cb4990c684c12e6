package quota

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/tracker"
)

func setup(t *testing.T) (*tracker.SQLiteTracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "quota_test.db")
	tr, err := tracker.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

var alice = models.CallerIdentity{ID: "alice"}

func TestSnapshotFreeTier(t *testing.T) {
	tr, ctx := setup(t)
	m := New(tr, config.Default().Quota)

	for range 3 {
		if err := m.RecordUsage(ctx, alice, models.UsageRecord{Model: "m"}); err != nil {
			t.Fatal(err)
		}
	}

	s, err := m.Snapshot(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if s.Tier != models.TierFree || s.DailyLimit != 10 || s.DailyUsed != 3 || s.Remaining != 7 {
		t.Errorf("unexpected snapshot %+v", s)
	}
	if !s.ResetAt.Equal(DayStart(time.Now()).Add(24 * time.Hour)) {
		t.Errorf("reset should be next UTC midnight, got %v", s.ResetAt)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)
	cfg := config.Default().Quota
	cfg.Limits = map[models.Tier]int{models.TierFree: 2, models.TierPremium: models.Unlimited}
	m := New(tr, cfg)

	for range 2 {
		if _, err := m.Check(ctx, alice); err != nil {
			t.Fatalf("expected quota, got %v", err)
		}
		if err := m.RecordUsage(ctx, alice, models.UsageRecord{}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := m.Check(ctx, alice)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	var ee *ExceededError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExceededError, got %T", err)
	}
	if ee.Snapshot.DailyUsed != 2 || ee.Snapshot.Remaining != 0 {
		t.Errorf("unexpected snapshot %+v", ee.Snapshot)
	}

	ok, err := m.HasQuota(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no quota")
	}
}

func TestPremiumUnlimited(t *testing.T) {
	tr, ctx := setup(t)
	if err := tr.SetProfile(ctx, models.Profile{UserID: "alice", Tier: models.TierPremium}); err != nil {
		t.Fatal(err)
	}
	m := New(tr, config.Default().Quota)
	for range 15 {
		_ = m.RecordUsage(ctx, alice, models.UsageRecord{})
	}
	s, err := m.Snapshot(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if s.DailyLimit != models.Unlimited || s.Remaining != models.Unlimited || s.DailyUsed != 15 {
		t.Errorf("unexpected snapshot %+v", s)
	}
}

func TestCompute(t *testing.T) {
	reset := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		limit, used, remaining int
	}{
		{10, 0, 10},
		{10, 9, 1},
		{10, 10, 0},
		{10, 12, 0},
		{models.Unlimited, 500, models.Unlimited},
		{0, 0, 0},
	}
	for _, tt := range tests {
		s := Compute(models.TierFree, tt.limit, tt.used, reset)
		if s.Remaining != tt.remaining {
			t.Errorf("limit=%d used=%d: expected remaining %d, got %d", tt.limit, tt.used, tt.remaining, s.Remaining)
		}
	}
}

// countingBackend records backend calls and the order of cache/writes.
type countingBackend struct {
	mu         sync.Mutex
	tier       models.Tier
	used       int
	tierCalls  int
	countCalls int
	fail       error
}

func (b *countingBackend) Tier(context.Context, string) (models.Tier, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tierCalls++
	if b.fail != nil {
		return "", b.fail
	}
	return b.tier, nil
}

func (b *countingBackend) CountUsage(context.Context, string, string, time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countCalls++
	return b.used, nil
}

func (b *countingBackend) Record(context.Context, models.UsageRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used++
	return nil
}

func TestCachesAndInvalidation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := &countingBackend{tier: models.TierFree}
	m := New(b, config.Default().Quota, WithClock(clock))
	ctx := context.Background()

	for range 5 {
		if _, err := m.Snapshot(ctx, alice); err != nil {
			t.Fatal(err)
		}
	}
	if b.tierCalls != 1 || b.countCalls != 1 {
		t.Fatalf("expected cached lookups, got tier=%d count=%d", b.tierCalls, b.countCalls)
	}

	if err := m.RecordUsage(ctx, alice, models.UsageRecord{}); err != nil {
		t.Fatal(err)
	}
	s, _ := m.Snapshot(ctx, alice)
	if s.DailyUsed != 1 {
		t.Errorf("usage cache should be invalidated by RecordUsage, got used=%d", s.DailyUsed)
	}
	if b.tierCalls != 1 {
		t.Errorf("tier cache should survive usage writes, got %d calls", b.tierCalls)
	}

	now = now.Add(6 * time.Minute)
	_, _ = m.Snapshot(ctx, alice)
	if b.tierCalls != 2 {
		t.Errorf("tier cache should expire after 5m, got %d calls", b.tierCalls)
	}
}

func TestDayRollover(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := &countingBackend{tier: models.TierFree, used: 10}
	m := New(b, config.Default().Quota, WithClock(clock))
	ctx := context.Background()

	s, _ := m.Snapshot(ctx, alice)
	if s.Remaining != 0 {
		t.Fatalf("expected exhausted quota, got %+v", s)
	}

	b.used = 0
	now = now.Add(2 * time.Minute)
	s, _ = m.Snapshot(ctx, alice)
	if s.Remaining != 10 {
		t.Errorf("new day should use a fresh usage key, got %+v", s)
	}
	if !s.ResetAt.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected reset %v", s.ResetAt)
	}
}

func TestBackendFailurePropagates(t *testing.T) {
	b := &countingBackend{fail: errors.New("db down")}
	m := New(b, config.Default().Quota)
	if _, err := m.HasQuota(context.Background(), alice); err == nil {
		t.Fatal("expected error")
	}
	if _, err := m.Check(context.Background(), alice); errors.Is(err, ErrQuotaExceeded) {
		t.Error("backend failure must not look like an exhausted quota")
	}
}

func TestTierChangeAppliesAfterTierTTL(t *testing.T) {
	tr, ctx := setup(t)
	now := time.Now()
	m := New(tr, config.Default().Quota, WithClock(func() time.Time { return now }))

	s, err := m.Snapshot(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if s.Tier != models.TierFree {
		t.Fatalf("expected free tier, got %s", s.Tier)
	}

	if err := tr.SetProfile(ctx, models.Profile{UserID: "alice", Tier: models.TierPremium}); err != nil {
		t.Fatal(err)
	}
	s, _ = m.Snapshot(ctx, alice)
	if s.Tier != models.TierFree {
		t.Errorf("cached tier should hold until tier_ttl, got %s", s.Tier)
	}

	now = now.Add(config.Default().Quota.TierTTL + time.Second)
	s, _ = m.Snapshot(ctx, alice)
	if s.Tier != models.TierPremium || s.DailyLimit != models.Unlimited {
		t.Errorf("expected premium after tier_ttl, got %+v", s)
	}
}
