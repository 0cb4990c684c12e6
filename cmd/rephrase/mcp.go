package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/audit"
	"github.com/pario-ai/rephrase/pkg/mcp"
	"github.com/pario-ai/rephrase/pkg/pii"
	"github.com/pario-ai/rephrase/pkg/quota"
	"github.com/pario-ai/rephrase/pkg/tracker"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start rephrase as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init tracker: %w", err)
			}
			defer func() { _ = tr.Close() }()

			deps := mcp.Deps{
				Usage:   tr,
				Quota:   quota.New(tr, cfg.Quota),
				Masker:  pii.New(),
				Pricing: cfg.Pricing,
			}

			if cfg.Cache.Enabled {
				c, err := openCacheAdmin(context.Background(), cfg)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = c.Close() }()
				deps.Cache = c
			}

			if cfg.Audit.Enabled {
				ac := cfg.Audit
				ac.DBPath = auditDBPath(cfg)
				l, err := audit.New(ac)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = l.Close() }()
				deps.Audit = l
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mcp.New(deps, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
