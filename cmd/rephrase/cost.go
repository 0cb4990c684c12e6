package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/tracker"
)

func newCostCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated generation costs by model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			reports, err := tr.CostReport(context.Background(), sinceTime, cfg.Pricing)
			if err != nil {
				return err
			}

			fmt.Print(formatCostTable(reports))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD), defaults to beginning of current month")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatCostTable(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No billable usage found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %12s %12s %12s %10s\n",
		"MODEL", "REQUESTS", "PROMPT", "COMPLETION", "TOTAL", "COST ($)")
	b.WriteString(strings.Repeat("-", 84) + "\n")

	var totalCost float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-25s %8d %12d %12d %12d %10.4f\n",
			r.Model, r.RequestCount, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.EstimatedCost)
		totalCost += r.EstimatedCost
	}

	b.WriteString(strings.Repeat("-", 84) + "\n")
	fmt.Fprintf(&b, "%-25s %8s %12s %12s %12s %10.4f\n", "TOTAL", "", "", "", "", totalCost)
	return b.String()
}
