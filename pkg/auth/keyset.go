package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrKeySetUnavailable means the signing keys could not be fetched.
	ErrKeySetUnavailable = errors.New("key set unavailable")
	// ErrUnknownKey means the key set has no usable key for the token.
	ErrUnknownKey = errors.New("unknown signing key")
)

// KeySet resolves token signing keys from a JWKS endpoint. The first fetch
// happens on first use; after that keys refresh every ttl in the background
// and on unknown kids, at most once per cooldown.
type KeySet struct {
	url     string
	opts    keyfunc.Options
	retry   time.Duration
	now     func() time.Time
	mu      sync.Mutex
	jwks    *keyfunc.JWKS
	lastTry time.Time
	lastErr error
}

// NewKeySet creates a key set for url.
func NewKeySet(url string, ttl, cooldown, timeout time.Duration, client *http.Client) *KeySet {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KeySet{
		url:   url,
		retry: cooldown,
		now:   time.Now,
		opts: keyfunc.Options{
			Client:            client,
			RefreshInterval:   ttl,
			RefreshRateLimit:  cooldown,
			RefreshTimeout:    timeout,
			RefreshUnknownKID: true,
			ResponseExtractor: keyfunc.ResponseExtractorStatusOK,
			RefreshErrorHandler: func(err error) {
				slog.Warn("jwks refresh failed, keeping previous keys", "url", url, "error", err)
			},
		},
	}
}

func (s *KeySet) load() (*keyfunc.JWKS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jwks != nil {
		return s.jwks, nil
	}
	if s.lastErr != nil && s.now().Sub(s.lastTry) < s.retry {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, s.lastErr)
	}

	s.lastTry = s.now()
	jwks, err := keyfunc.Get(s.url, s.opts)
	if err != nil {
		s.lastErr = err
		slog.Warn("jwks fetch failed", "url", s.url, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	slog.Debug("jwks loaded", "url", s.url, "keys", len(jwks.KIDs()))
	s.jwks, s.lastErr = jwks, nil
	return jwks, nil
}

// Keyfunc returns the verification key for t. It fails with
// ErrKeySetUnavailable when no keys could be fetched and with ErrUnknownKey
// when the fetched keys cannot verify t.
func (s *KeySet) Keyfunc(t *jwt.Token) (interface{}, error) {
	jwks, err := s.load()
	if err != nil {
		return nil, err
	}
	key, err := jwks.Keyfunc(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	return key, nil
}

// Close stops background refreshes.
func (s *KeySet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jwks != nil {
		s.jwks.EndBackground()
	}
}
