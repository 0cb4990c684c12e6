package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/rephrase/pkg/diff"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/pii"
)

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	half := (n - 3) / 2
	return s[:half] + "..." + s[len(s)-half:]
}

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-25s %8s %8s %10s %10s %10s\n",
		"User", "Model", "Requests", "Cached", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 101) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %-25s %8d %8d %10d %10d %10d\n",
			shorten(r.UserID, 24), r.Model, r.RequestCount, r.CachedCount,
			r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
	}
	return b.String()
}

func formatLimit(n int) string {
	if n == models.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

// formatQuota formats a quota snapshot as text.
func formatQuota(userID string, s models.QuotaSnapshot) string {
	return fmt.Sprintf("Quota for %s\n"+
		"  Tier:      %s\n"+
		"  Limit:     %s\n"+
		"  Used:      %d\n"+
		"  Remaining: %s\n"+
		"  Resets:    %s\n",
		userID, s.Tier, formatLimit(s.DailyLimit), s.DailyUsed,
		formatLimit(s.Remaining), s.ResetAt.UTC().Format("2006-01-02 15:04:05 MST"))
}

// formatCostReport formats cost reports as a text table.
func formatCostReport(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No billable usage found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %12s %12s %10s\n", "Model", "Requests", "Prompt", "Completion", "Cost ($)")
	b.WriteString(strings.Repeat("-", 71) + "\n")
	var total float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-25s %8d %12d %12d %10.4f\n",
			r.Model, r.RequestCount, r.PromptTokens, r.CompletionTokens, r.EstimatedCost)
		total += r.EstimatedCost
	}
	fmt.Fprintf(&b, "%-25s %8s %12s %12s %10.4f\n", "TOTAL", "", "", "", total)
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-19s %-8s %-9s %-20s %-6s %-20s %7s %7s\n",
		"Request ID", "Time", "User", "Mode", "Model", "Cached", "Status", "Tokens", "Ms")
	b.WriteString(strings.Repeat("-", 146) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-19s %-8s %-9s %-20s %-6t %-20s %7d %7d\n",
			e.RequestID, e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.UserPrefix,
			e.Mode, shorten(e.Model, 20), e.Cached, e.Status, e.TotalTokens, e.LatencyMs)
		if e.PIICategories != "" {
			fmt.Fprintf(&b, "  masked: %s\n", e.PIICategories)
		}
	}
	return b.String()
}

// formatDiff renders segments inline: deletions as [-text-], insertions as {+text+}.
func formatDiff(segs []models.DiffSegment) string {
	if len(segs) == 0 {
		return "Both texts are empty."
	}
	var b strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case models.DiffDelete:
			b.WriteString("[-" + s.Text + "-]")
		case models.DiffInsert:
			b.WriteString("{+" + s.Text + "+}")
		default:
			b.WriteString(s.Text)
		}
	}
	deleted, inserted := diff.Stats(segs)
	fmt.Fprintf(&b, "\n\n%d word(s) deleted, %d inserted\n", deleted, inserted)
	return b.String()
}

// formatMaskPreview shows the masked text and per-category counts.
func formatMaskPreview(masked string, counts map[pii.Category]int) string {
	var b strings.Builder
	b.WriteString(masked)
	b.WriteString("\n\n")
	if len(counts) == 0 {
		b.WriteString("No personal data detected.\n")
		return b.String()
	}
	b.WriteString("Masked values:\n")
	for _, c := range pii.Order {
		if n := counts[c]; n > 0 {
			fmt.Fprintf(&b, "  %-10s %d\n", c, n)
		}
	}
	return b.String()
}
