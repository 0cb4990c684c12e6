package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/quota"
	"github.com/pario-ai/rephrase/pkg/tracker"
)

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect daily quotas and manage caller tiers",
	}

	var userID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a caller's daily usage vs limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			s, err := quota.New(tr, cfg.Quota).Snapshot(context.Background(), models.CallerIdentity{ID: userID})
			if err != nil {
				return err
			}
			fmt.Printf("User:      %s\n", userID)
			fmt.Printf("Tier:      %s\n", s.Tier)
			fmt.Printf("Limit:     %s\n", limitStr(s.DailyLimit))
			fmt.Printf("Used:      %d\n", s.DailyUsed)
			fmt.Printf("Remaining: %s\n", limitStr(s.Remaining))
			fmt.Printf("Resets:    %s\n", s.ResetAt.Format(time.RFC3339))
			return nil
		},
	}
	statusCmd.Flags().StringVar(&userID, "user", "", "user ID")

	var (
		setUser string
		tier    string
		email   string
		expires string
	)
	setTierCmd := &cobra.Command{
		Use:   "set-tier",
		Short: "Assign a subscription tier to a caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			if setUser == "" {
				return errors.New("--user is required")
			}
			t := models.Tier(tier)
			if t != models.TierFree && t != models.TierPremium {
				return fmt.Errorf("unknown tier %q (use free or premium)", tier)
			}
			p := models.Profile{UserID: setUser, Email: email, Tier: t}
			if expires != "" {
				ts, err := time.Parse("2006-01-02", expires)
				if err != nil {
					return fmt.Errorf("invalid --expires date (use YYYY-MM-DD): %w", err)
				}
				p.TierExpiresAt = &ts
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			if err := tr.SetProfile(context.Background(), p); err != nil {
				return err
			}
			fmt.Printf("Tier of %s set to %s.\n", setUser, t)
			return nil
		},
	}
	setTierCmd.Flags().StringVar(&setUser, "user", "", "user ID")
	setTierCmd.Flags().StringVar(&tier, "tier", string(models.TierPremium), "tier (free or premium)")
	setTierCmd.Flags().StringVar(&email, "email", "", "contact email stored with the profile")
	setTierCmd.Flags().StringVar(&expires, "expires", "", "date the paid tier lapses (YYYY-MM-DD)")

	cmd.AddCommand(statusCmd, setTierCmd)
	return cmd
}

func limitStr(n int) string {
	if n == models.Unlimited {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
