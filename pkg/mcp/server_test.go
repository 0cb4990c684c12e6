package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/rephrase/pkg/audit"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/quota"
)

// fakeUsage implements UsageReader for testing.
type fakeUsage struct {
	summaries []models.UsageSummary
	reports   []models.CostReport
	gotUser   string
}

func (f *fakeUsage) Summary(_ context.Context, userID string) ([]models.UsageSummary, error) {
	f.gotUser = userID
	return f.summaries, nil
}

func (f *fakeUsage) CostReport(_ context.Context, _ time.Time, _ []models.ModelPricing) ([]models.CostReport, error) {
	return f.reports, nil
}

type fakeQuota struct{}

func (fakeQuota) Snapshot(_ context.Context, _ models.CallerIdentity) (models.QuotaSnapshot, error) {
	return quota.Compute(models.TierPremium, models.Unlimited, 42, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)), nil
}

// fakeCache implements CacheStatter for testing.
type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats(context.Context) (models.CacheStats, error) { return f.stats, nil }

type fakeAudit struct {
	entries []models.AuditEntry
	gotOpts models.AuditQueryOpts
}

func (f *fakeAudit) Query(_ context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	f.gotOpts = opts
	return f.entries, nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	call := ToolCallParams{Name: name}
	if args != "" {
		call.Arguments = json.RawMessage(args)
	}
	params, _ := json.Marshal(call)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`7`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	_ = json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "rephrase" {
		t.Errorf("server name = %s, want rephrase", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	_ = json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
	}
}

func TestToolCallUsage(t *testing.T) {
	usage := &fakeUsage{
		summaries: []models.UsageSummary{
			{UserID: "user-1", Model: "gpt-4o-mini", RequestCount: 10, CachedCount: 4, TotalPrompt: 500, TotalCompletion: 200, TotalTokens: 700},
		},
	}
	srv := New(Deps{Usage: usage}, "test")

	result := callTool(t, srv, "rephrase_usage", `{"user_id":"user-1"}`)
	if !strings.Contains(result.Content[0].Text, "gpt-4o-mini") {
		t.Errorf("expected gpt-4o-mini in output, got: %s", result.Content[0].Text)
	}
	if usage.gotUser != "user-1" {
		t.Errorf("expected user filter user-1, got %q", usage.gotUser)
	}
}

func TestToolCallQuota(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}, Quota: fakeQuota{}}, "test")

	result := callTool(t, srv, "rephrase_quota", `{"user_id":"user-1"}`)
	text := result.Content[0].Text
	if !strings.Contains(text, "premium") || !strings.Contains(text, "unlimited") {
		t.Errorf("unexpected quota output: %s", text)
	}

	missing := callTool(t, srv, "rephrase_quota", `{}`)
	if !missing.IsError {
		t.Error("expected error without user_id")
	}
}

func TestToolCallNotConfigured(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")

	for _, name := range []string{"rephrase_cache_stats", "rephrase_quota", "rephrase_audit_search"} {
		result := callTool(t, srv, name, `{"user_id":"u"}`)
		if !strings.Contains(result.Content[0].Text, "not configured") {
			t.Errorf("%s: expected 'not configured', got: %s", name, result.Content[0].Text)
		}
	}
}

func TestToolCallCacheStats(t *testing.T) {
	c := &fakeCache{stats: models.CacheStats{Entries: 42, Hits: 100, Misses: 50}}
	srv := New(Deps{Usage: &fakeUsage{}, Cache: c}, "test")

	text := callTool(t, srv, "rephrase_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") {
		t.Errorf("expected entries count in output, got: %s", text)
	}
	if !strings.Contains(text, "66.7%") {
		t.Errorf("expected hit rate 66.7%% in output, got: %s", text)
	}
}

func TestToolCallCostReport(t *testing.T) {
	usage := &fakeUsage{reports: []models.CostReport{
		{Model: "gpt-4o-mini", RequestCount: 3, PromptTokens: 1000, CompletionTokens: 500, EstimatedCost: 0.125},
	}}
	srv := New(Deps{Usage: usage}, "test")

	text := callTool(t, srv, "rephrase_cost_report", `{"since":"2026-01-01"}`).Content[0].Text
	if !strings.Contains(text, "0.1250") || !strings.Contains(text, "TOTAL") {
		t.Errorf("unexpected cost output: %s", text)
	}

	bad := callTool(t, srv, "rephrase_cost_report", `{"since":"yesterday"}`)
	if !bad.IsError {
		t.Error("expected error for invalid date")
	}
}

func TestToolCallAuditSearch(t *testing.T) {
	a := &fakeAudit{entries: []models.AuditEntry{
		{RequestID: "req-1", UserPrefix: "abcd1234", Mode: models.ModeFormal, Model: "gpt-4o-mini", Status: models.StatusOK, PIICategories: "email:1"},
	}}
	srv := New(Deps{Usage: &fakeUsage{}, Audit: a}, "test")

	text := callTool(t, srv, "rephrase_audit_search", `{"user_id":"user-1","mode":"formal","since":"2026-01-01"}`).Content[0].Text
	if !strings.Contains(text, "req-1") || !strings.Contains(text, "masked: email:1") {
		t.Errorf("unexpected audit output: %s", text)
	}
	_, prefix := audit.HashUser("user-1")
	if a.gotOpts.UserPrefix != prefix {
		t.Errorf("expected hashed user prefix %s, got %s", prefix, a.gotOpts.UserPrefix)
	}
	if a.gotOpts.Mode != models.ModeFormal {
		t.Errorf("expected mode filter formal, got %s", a.gotOpts.Mode)
	}
}

func TestToolCallDiff(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	text := callTool(t, srv, "rephrase_diff", `{"original":"один два три","modified":"один четыре три"}`).Content[0].Text
	if !strings.Contains(text, "один [-два-]{+четыре+} три") {
		t.Errorf("unexpected diff output: %s", text)
	}
	if !strings.Contains(text, "1 word(s) deleted, 1 inserted") {
		t.Errorf("unexpected diff stats: %s", text)
	}
}

func TestToolCallMaskPreview(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	text := callTool(t, srv, "rephrase_mask_preview", `{"text":"Пишите на user@example.com"}`).Content[0].Text
	if !strings.Contains(text, "Пишите на [EMAIL]") {
		t.Errorf("expected masked text, got: %s", text)
	}
	if strings.Contains(text, "user@example.com") {
		t.Error("mask preview must not echo original values")
	}
	if !strings.Contains(text, "email") {
		t.Errorf("expected category counts, got: %s", text)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`6`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	result := callTool(t, srv, "nonexistent_tool", "")
	if !result.IsError {
		t.Error("expected isError for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	line, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := New(Deps{Usage: &fakeUsage{}}, "test")
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}
