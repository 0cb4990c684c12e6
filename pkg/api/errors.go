package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pario-ai/rephrase/pkg/auth"
	"github.com/pario-ai/rephrase/pkg/gateway"
	"github.com/pario-ai/rephrase/pkg/quota"
	"github.com/pario-ai/rephrase/pkg/rewrite"
)

// writeError maps service errors onto status codes and error bodies.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		verr *rewrite.ValidationError
		qerr *quota.ExceededError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(c, http.StatusBadRequest, "invalid_request", verr.Error(), gin.H{"fields": verr.Fields})
	case errors.Is(err, auth.ErrVerificationUnavailable):
		c.Header("Retry-After", "5")
		writeJSON(c, http.StatusServiceUnavailable, "verification_unavailable", "token verification is temporarily unavailable", nil)
	case errors.Is(err, auth.ErrUnauthenticated):
		c.Header("WWW-Authenticate", `Bearer realm="rephrase"`)
		writeJSON(c, http.StatusUnauthorized, "unauthenticated", "missing or invalid bearer token", nil)
	case errors.As(err, &qerr):
		info := qerr.Snapshot.Info()
		c.Header("Retry-After", retryAfter(time.Until(info.ResetAt)))
		writeJSON(c, http.StatusTooManyRequests, "quota_exceeded", "daily quota exhausted", gin.H{
			"limit":   info.Limit,
			"used":    info.Used,
			"resetAt": info.ResetAt,
		})
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		c.Header("Retry-After", retryAfter(s.cfg.Gateway.ResetTimeout))
		writeJSON(c, http.StatusServiceUnavailable, "upstream_unavailable", "text generation is temporarily unavailable, retry later", nil)
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		writeJSON(c, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeJSON(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{"error": code, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
