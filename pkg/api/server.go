// Package api exposes the rewrite service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/rephrase/pkg/auth"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/diff"
	"github.com/pario-ai/rephrase/pkg/models"
)

// Rewriter is the service behind the HTTP surface.
type Rewriter interface {
	Authenticate(ctx context.Context, token string) (models.CallerIdentity, error)
	Rewrite(ctx context.Context, id models.CallerIdentity, req models.RewriteRequest) (*models.RewriteResponse, error)
	Quota(ctx context.Context, id models.CallerIdentity) (models.QuotaSnapshot, error)
}

const identityKey = "identity"

// Server is the rephrase HTTP server.
type Server struct {
	cfg    *config.Config
	svc    Rewriter
	engine *gin.Engine
}

// New creates a Server wired to svc.
func New(cfg *config.Config, svc Rewriter) *Server {
	s := &Server{cfg: cfg, svc: svc, engine: gin.New()}

	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.Use(cors.New(corsConfig(cfg.CORS.AllowOrigins)))

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1", s.limitBody, s.authenticate)
	v1.POST("/rewrite", s.handleRewrite)
	v1.GET("/quota", s.handleQuota)
	v1.POST("/diff", s.handleDiff)
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Type", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("rephrase listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) limitBody(c *gin.Context) {
	if s.cfg.Limits.MaxBodyBytes > 0 && c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Limits.MaxBodyBytes)
	}
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	token, ok := auth.ExtractBearer(c.GetHeader("Authorization"))
	if !ok {
		s.writeError(c, auth.ErrUnauthenticated)
		c.Abort()
		return
	}
	id, err := s.svc.Authenticate(c.Request.Context(), token)
	if err != nil {
		s.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func identity(c *gin.Context) models.CallerIdentity {
	id, _ := c.Get(identityKey)
	ident, _ := id.(models.CallerIdentity)
	return ident
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRewrite(c *gin.Context) {
	var req models.RewriteRequest
	if !s.bind(c, &req) {
		return
	}
	resp, err := s.svc.Rewrite(c.Request.Context(), identity(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQuota(c *gin.Context) {
	snap, err := s.svc.Quota(c.Request.Context(), identity(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tier":      snap.Tier,
		"limit":     snap.DailyLimit,
		"used":      snap.DailyUsed,
		"remaining": snap.Remaining,
		"resetAt":   snap.ResetAt,
	})
}

type diffRequest struct {
	Original string `json:"original"`
	Modified string `json:"modified"`
}

func (s *Server) handleDiff(c *gin.Context) {
	var req diffRequest
	if !s.bind(c, &req) {
		return
	}
	if limit := s.cfg.Limits.MaxInputChars; limit > 0 && (len([]rune(req.Original)) > limit || len([]rune(req.Modified)) > limit) {
		writeJSON(c, http.StatusBadRequest, "invalid_request", "original and modified must each be at most the input limit", nil)
		return
	}
	segs := diff.Compute(req.Original, req.Modified)
	deleted, inserted := diff.Stats(segs)
	c.JSON(http.StatusOK, gin.H{
		"diff":     segs,
		"deleted":  deleted,
		"inserted": inserted,
	})
}

// bind decodes the JSON body into v and writes the error response itself.
func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(c, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large", nil)
			return false
		}
		writeJSON(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", nil)
		return false
	}
	return true
}
