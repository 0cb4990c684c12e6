package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/audit"
	"github.com/pario-ai/rephrase/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the request audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		mode   string
		model  string
		status string
		since  string
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "" && !models.Mode(mode).Valid() {
				return fmt.Errorf("unknown mode %q", mode)
			}

			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Mode:   models.Mode(mode),
				Model:  model,
				Status: status,
				Limit:  limit,
			}
			if userID != "" {
				_, opts.UserPrefix = audit.HashUser(userID)
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "filter by rewrite mode")
	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&status, "status", "", "filter by outcome (ok, quota_exceeded, upstream_unavailable, invalid, error)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&userID, "user", "", "filter by user ID (matched by hash)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Request ID:    %s\n", e.RequestID)
			fmt.Printf("User:          %s...\n", e.UserPrefix)
			fmt.Printf("Mode:          %s\n", e.Mode)
			fmt.Printf("Model:         %s\n", e.Model)
			fmt.Printf("Cached:        %t\n", e.Cached)
			fmt.Printf("Status:        %s\n", e.Status)
			fmt.Printf("Latency:       %dms\n", e.LatencyMs)
			fmt.Printf("Characters:    %d in / %d out\n", e.InputChars, e.OutputChars)
			fmt.Printf("Tokens:        %d\n", e.TotalTokens)
			if e.PIICategories != "" {
				fmt.Printf("Masked:        %s\n", e.PIICategories)
			}
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit log statistics by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger() (*audit.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ac := cfg.Audit
	ac.DBPath = auditDBPath(cfg)
	l, err := audit.New(ac)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-9s %-9s %-20s %-6s %-20s %8s %8s %-20s\n",
		"REQUEST ID", "USER", "MODE", "MODEL", "CACHED", "STATUS", "LATENCY", "TOKENS", "TIME")
	b.WriteString(strings.Repeat("-", 148) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-9s %-9s %-20s %-6t %-20s %6dms %8d %-20s\n",
			e.RequestID, e.UserPrefix, e.Mode, e.Model, e.Cached, e.Status,
			e.LatencyMs, e.TotalTokens,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %8s\n", "MODEL", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 48) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-25s %-12s %8d\n", s.Model, s.Day, s.Count)
	}
	return b.String()
}
