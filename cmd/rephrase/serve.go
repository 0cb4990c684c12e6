package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/api"
	"github.com/pario-ai/rephrase/pkg/audit"
	"github.com/pario-ai/rephrase/pkg/auth"
	"github.com/pario-ai/rephrase/pkg/cache"
	redisstore "github.com/pario-ai/rephrase/pkg/cache/redis"
	sqlitestore "github.com/pario-ai/rephrase/pkg/cache/sqlite"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/gateway"
	"github.com/pario-ai/rephrase/pkg/pii"
	"github.com/pario-ai/rephrase/pkg/quota"
	"github.com/pario-ai/rephrase/pkg/rewrite"
	"github.com/pario-ai/rephrase/pkg/router"
	"github.com/pario-ai/rephrase/pkg/tracker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the rewrite HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init tracker: %w", err)
			}
			defer func() { _ = tr.Close() }()

			var responses rewrite.Cache
			if cfg.Cache.Enabled {
				store, closeStore, err := openCacheStore(ctx, cfg)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer closeStore()
				c := cache.New(store, cfg.Cache)
				defer c.Wait()
				responses = c
			}

			var auditLog rewrite.AuditLog
			if cfg.Audit.Enabled {
				ac := cfg.Audit
				ac.DBPath = auditDBPath(cfg)
				l, err := audit.New(ac)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = l.Close() }()
				auditLog = l
			}

			client := &http.Client{}
			verifier := auth.NewFromConfig(cfg.Auth, client)
			defer verifier.Close()

			svc := rewrite.New(rewrite.Deps{
				Verifier:  verifier,
				Quota:     quota.New(tr, cfg.Quota),
				Cache:     responses,
				Masker:    pii.New(),
				Generator: gateway.New(router.New(cfg), cfg.Gateway, gateway.WithHTTPClient(client)),
				Audit:     auditLog,
			}, cfg.Limits)
			defer svc.Wait()

			slog.Info("starting rephrase", "version", version, "listen", cfg.Listen,
				"providers", len(cfg.Providers), "cache", cfg.Cache.Enabled, "audit", cfg.Audit.Enabled)
			return api.New(cfg, svc).ListenAndServe(ctx)
		},
	}
}

// openCacheStore opens the persistent cache tier selected by cache.backend.
func openCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.Cache.Backend == "redis" {
		s, err := redisstore.Open(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := sqlitestore.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
