package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	redisstore "github.com/pario-ai/rephrase/pkg/cache/redis"
	sqlitestore "github.com/pario-ai/rephrase/pkg/cache/sqlite"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
)

// cacheAdmin is the persistent cache tier as seen by operator commands.
type cacheAdmin interface {
	Stats(ctx context.Context) (models.CacheStats, error)
	TotalHits(ctx context.Context) (int64, error)
	Clear(ctx context.Context, expiredOnly bool) (int64, error)
	Close() error
}

// openCacheAdmin opens the store selected by cache.backend.
func openCacheAdmin(ctx context.Context, cfg *config.Config) (cacheAdmin, error) {
	if cfg.Cache.Backend == "redis" {
		return redisstore.Open(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	}
	return sqlitestore.New(cfg.DBPath)
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			c, err := openCacheAdmin(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			hits, err := c.TotalHits(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Backend: %s\nEntries: %d\nHits:    %d\n", cfg.Cache.Backend, stats.Entries, hits)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			c, err := openCacheAdmin(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(ctx, expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("%d expired cache entries cleared.\n", n)
			} else {
				fmt.Printf("%d cache entries cleared.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
