// Package auth resolves bearer tokens to caller identities.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/metrics"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/ttlcache"
)

var (
	// ErrUnauthenticated is returned for absent, malformed, expired or
	// rejected tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrVerificationUnavailable is returned when every verification path
	// failed transiently.
	ErrVerificationUnavailable = errors.New("token verification unavailable")
)

// Verifier resolves tokens through a local cache, local signature checks and
// the remote identity backend, in that order.
type Verifier struct {
	local  *LocalVerifier
	remote *RemoteChecker
	tokens *ttlcache.Cache[string, models.CallerIdentity]
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source used for token cache expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a Verifier. Either local or remote may be nil.
func New(local *LocalVerifier, remote *RemoteChecker, cacheSize int, ttl time.Duration, opts ...Option) *Verifier {
	v := &Verifier{local: local, remote: remote, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	v.tokens = ttlcache.New(cacheSize, ttl, ttlcache.WithClock[string, models.CallerIdentity](v.now))
	return v
}

// NewFromConfig wires a Verifier from the auth config section.
func NewFromConfig(cfg config.AuthConfig, client *http.Client) *Verifier {
	var keys *KeySet
	if cfg.BaseURL != "" && cfg.JWKSPath != "" {
		keys = NewKeySet(joinURL(cfg.BaseURL, cfg.JWKSPath), cfg.KeySetTTL, cfg.KeyRefreshCooldown, cfg.Timeout, client)
	}
	var remote *RemoteChecker
	if cfg.BaseURL != "" && cfg.UserPath != "" {
		remote = NewRemoteChecker(joinURL(cfg.BaseURL, cfg.UserPath), cfg.APIKey, cfg.Timeout, client)
	}
	local := NewLocalVerifier(keys, cfg.JWTSecret, cfg.Issuer, cfg.Audience)
	return New(local, remote, cfg.TokenCacheSize, cfg.TokenTTL)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve returns the identity owning token.
func (v *Verifier) Resolve(ctx context.Context, token string) (models.CallerIdentity, error) {
	if strings.TrimSpace(token) == "" {
		return models.CallerIdentity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	key := tokenKey(token)
	if id, ok := v.tokens.Get(key); ok {
		metrics.TokenVerifications.WithLabelValues("cache", "ok").Inc()
		return id, nil
	}

	var (
		errs      []error
		transient = true
	)

	if v.local.Enabled() {
		id, exp, err := v.local.Verify(ctx, token)
		if err == nil {
			metrics.TokenVerifications.WithLabelValues("local", "ok").Inc()
			v.remember(key, id, exp)
			return id, nil
		}
		if errors.Is(err, ErrUnauthenticated) {
			transient = false
			metrics.TokenVerifications.WithLabelValues("local", "rejected").Inc()
		} else {
			metrics.TokenVerifications.WithLabelValues("local", "error").Inc()
		}
		slog.Debug("local token verification failed", "error", err)
		errs = append(errs, err)
	}

	if v.remote != nil {
		id, err := v.remote.Check(ctx, token)
		if err == nil {
			metrics.TokenVerifications.WithLabelValues("remote", "ok").Inc()
			v.remember(key, id, time.Time{})
			return id, nil
		}
		if errors.Is(err, ErrUnauthenticated) {
			transient = false
			metrics.TokenVerifications.WithLabelValues("remote", "rejected").Inc()
		} else {
			metrics.TokenVerifications.WithLabelValues("remote", "error").Inc()
			slog.Warn("remote identity check failed", "error", err)
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return models.CallerIdentity{}, fmt.Errorf("%w: no verification path configured", ErrUnauthenticated)
	}
	if transient {
		return models.CallerIdentity{}, fmt.Errorf("%w: %w", ErrVerificationUnavailable, errors.Join(errs...))
	}
	return models.CallerIdentity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, errors.Join(errs...))
}

// remember caches id until the configured TTL or the token expiry,
// whichever comes first.
func (v *Verifier) remember(key string, id models.CallerIdentity, exp time.Time) {
	ttl := v.ttl
	if !exp.IsZero() {
		if left := exp.Sub(v.now()); left < ttl {
			ttl = left
		}
	}
	v.tokens.SetWithTTL(key, id, ttl)
}

// ExtractBearer returns the token from an Authorization header value.
func ExtractBearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// Close stops background key refreshes.
func (v *Verifier) Close() {
	if v.local != nil && v.local.keys != nil {
		v.local.keys.Close()
	}
}
