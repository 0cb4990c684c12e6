package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/rephrase/pkg/audit"
	"github.com/pario-ai/rephrase/pkg/diff"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/pii"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"rephrase_usage":        handleUsage,
	"rephrase_quota":        handleQuota,
	"rephrase_cost_report":  handleCostReport,
	"rephrase_cache_stats":  handleCacheStats,
	"rephrase_audit_search": handleAuditSearch,
	"rephrase_diff":         handleDiff,
	"rephrase_mask_preview": handleMaskPreview,
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "rephrase_usage",
		Description: "Show rewrite usage aggregated by user and model, optionally for one user.",
		InputSchema: object(nil, map[string]any{
			"user_id": stringProp("Filter by user id (optional, omit for all users)"),
		}),
	},
	{
		Name:        "rephrase_quota",
		Description: "Show a user's tier, daily limit, usage and reset time.",
		InputSchema: object([]string{"user_id"}, map[string]any{
			"user_id": stringProp("The user id to inspect"),
		}),
	},
	{
		Name:        "rephrase_cost_report",
		Description: "Show estimated generation cost per model. Cached responses cost nothing.",
		InputSchema: object(nil, map[string]any{
			"since": stringProp("Start date in YYYY-MM-DD format (optional, defaults to start of month)"),
		}),
	},
	{
		Name:        "rephrase_cache_stats",
		Description: "Show persistent response cache statistics (entries, hits, misses, hit rate).",
		InputSchema: object(nil, map[string]any{}),
	},
	{
		Name:        "rephrase_audit_search",
		Description: "Search the request audit log. Entries never contain request or response text.",
		InputSchema: object(nil, map[string]any{
			"mode":    stringProp("Filter by rewrite mode (optional)"),
			"model":   stringProp("Filter by model (optional)"),
			"status":  stringProp("Filter by outcome, e.g. ok, quota_exceeded, upstream_unavailable (optional)"),
			"since":   stringProp("Start date in YYYY-MM-DD format (optional)"),
			"user_id": stringProp("Filter by user id; it is hashed before lookup (optional)"),
		}),
	},
	{
		Name:        "rephrase_diff",
		Description: "Show the word-level diff between two texts.",
		InputSchema: object([]string{"original", "modified"}, map[string]any{
			"original": stringProp("The original text"),
			"modified": stringProp("The rewritten text"),
		}),
	},
	{
		Name:        "rephrase_mask_preview",
		Description: "Show how personal data in a text would be masked before generation. Original values are not echoed.",
		InputSchema: object([]string{"text"}, map[string]any{
			"text": stringProp("Text to scan"),
		}),
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func parseDay(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

type userArgs struct {
	UserID string `json:"user_id"`
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args userArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	rows, err := s.deps.Usage.Summary(ctx, args.UserID)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleQuota(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.Quota == nil {
		return textResult("Quota tracking is not configured.")
	}
	var args userArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.UserID == "" {
		return errorResult("user_id is required")
	}
	snap, err := s.deps.Quota.Snapshot(ctx, models.CallerIdentity{ID: args.UserID})
	if err != nil {
		return errorResult("Error fetching quota: " + err.Error())
	}
	return textResult(formatQuota(args.UserID, snap))
}

type costReportArgs struct {
	Since string `json:"since"`
}

func handleCostReport(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args costReportArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	since := beginningOfMonth()
	if args.Since != "" {
		t, err := parseDay(args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		since = t
	}

	reports, err := s.deps.Usage.CostReport(ctx, since, s.deps.Pricing)
	if err != nil {
		return errorResult("Error fetching cost report: " + err.Error())
	}
	return textResult(formatCostReport(reports))
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.deps.Cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.deps.Cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type auditSearchArgs struct {
	Mode   string `json:"mode"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Since  string `json:"since"`
	UserID string `json:"user_id"`
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.Audit == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	opts := models.AuditQueryOpts{
		Mode:   models.Mode(args.Mode),
		Model:  args.Model,
		Status: args.Status,
		Limit:  50,
	}
	if args.UserID != "" {
		_, opts.UserPrefix = audit.HashUser(args.UserID)
	}
	if args.Since != "" {
		t, err := parseDay(args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.deps.Audit.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}

type diffArgs struct {
	Original string `json:"original"`
	Modified string `json:"modified"`
}

func handleDiff(_ context.Context, _ *Server, rawArgs json.RawMessage) ToolCallResult {
	var args diffArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	return textResult(formatDiff(diff.Compute(args.Original, args.Modified)))
}

type maskArgs struct {
	Text string `json:"text"`
}

func handleMaskPreview(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args maskArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Text == "" {
		return errorResult("text is required")
	}
	res := s.deps.Masker.Mask(args.Text)
	return textResult(formatMaskPreview(res.Text, pii.Categories(res.Concealed())))
}
