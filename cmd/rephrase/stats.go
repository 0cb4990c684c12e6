package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		userID string
		since  string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show rewrite usage statistics",
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

			ctx := context.Background()

			// Per-request view for a single user
			if userID != "" && since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				recs, err := tr.QueryByUser(ctx, userID, t)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No requests found for user.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tACTION\tMODE\tMODEL\tCACHED\tPROMPT\tCOMPLETION\tTOTAL")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%d\t%d\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Action, r.Mode, r.Model, r.Cached,
						r.PromptTokens, r.CompletionTokens, r.TotalTokens)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, userID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tMODEL\tREQUESTS\tCACHED\tPROMPT\tCOMPLETION\tTOTAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					s.UserID, s.Model, s.RequestCount, s.CachedCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "filter by user ID")
	cmd.Flags().StringVar(&since, "since", "", "with --user, list individual requests since date (YYYY-MM-DD)")
	return cmd
}
