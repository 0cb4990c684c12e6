package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/rephrase/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	hash, prefix := HashUser("user-1")
	return models.AuditEntry{
		RequestID:     "req-001",
		UserHash:      hash,
		UserPrefix:    prefix,
		Mode:          models.ModeFormal,
		Model:         "gpt-4o-mini",
		Status:        models.StatusOK,
		PIICategories: "phone:1",
		InputChars:    24,
		OutputChars:   30,
		TotalTokens:   42,
		LatencyMs:     150,
		CreatedAt:     time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	entry := sampleEntry()
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.RequestID != "req-001" {
		t.Errorf("expected req-001, got %s", got.RequestID)
	}
	if got.Mode != models.ModeFormal || got.PIICategories != "phone:1" || got.TotalTokens != 42 {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.CreatedAt.UnixMilli() != entry.CreatedAt.UnixMilli() {
		t.Errorf("created_at mismatch: %v vs %v", got.CreatedAt, entry.CreatedAt)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	e2.Mode = models.ModeFriendly
	e2.Status = models.StatusUpstreamUnavailable
	e2.Model = ""
	_ = l.Log(ctx, e2)
	e3 := sampleEntry()
	e3.RequestID = "req-003"
	e3.UserHash, e3.UserPrefix = HashUser("user-2")
	e3.Cached = true
	_ = l.Log(ctx, e3)

	tests := []struct {
		name string
		opts models.AuditQueryOpts
		want int
	}{
		{"all", models.AuditQueryOpts{}, 3},
		{"request id", models.AuditQueryOpts{RequestID: "req-002"}, 1},
		{"mode", models.AuditQueryOpts{Mode: models.ModeFormal}, 2},
		{"status", models.AuditQueryOpts{Status: models.StatusUpstreamUnavailable}, 1},
		{"user", models.AuditQueryOpts{UserPrefix: e3.UserPrefix}, 1},
		{"since future", models.AuditQueryOpts{Since: time.Now().Add(time.Hour)}, 0},
		{"limit", models.AuditQueryOpts{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(entries))
			}
		})
	}

	entries, _ := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-003"})
	if !entries[0].Cached {
		t.Error("expected cached flag to round-trip")
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestCleanupKeepsRecent(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	old := sampleEntry()
	old.RequestID = "old"
	old.CreatedAt = time.Now().AddDate(0, 0, -120)
	_ = l.Log(ctx, old)
	_ = l.Log(ctx, sampleEntry())

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	entries, _ := l.Query(ctx, models.AuditQueryOpts{})
	if len(entries) != 1 || entries[0].RequestID != "req-001" {
		t.Errorf("expected only req-001 to remain, got %+v", entries)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 {
		t.Errorf("expected count 2, got %d", stats[0].Count)
	}
	if want := time.Now().UTC().Format("2006-01-02"); stats[0].Day != want {
		t.Errorf("expected day %s, got %s", want, stats[0].Day)
	}
}

func TestHashUser(t *testing.T) {
	hash, prefix := HashUser("user-1")
	if len(hash) != 64 {
		t.Errorf("expected 64-char hash, got %d", len(hash))
	}
	if prefix != hash[:8] {
		t.Errorf("expected prefix %s, got %s", hash[:8], prefix)
	}
	if other, _ := HashUser("user-2"); other == hash {
		t.Error("different users must hash differently")
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
