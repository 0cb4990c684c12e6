package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pario-ai/rephrase/pkg/models"
)

// Claims are the JWT claims the verifier reads.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// LocalVerifier checks token signatures without calling the identity backend
// for every request.
type LocalVerifier struct {
	keys     *KeySet
	secret   []byte
	issuer   string
	audience string
	methods  []string
}

// NewLocalVerifier creates a verifier. keys may be nil when only the shared
// secret is used; secret may be empty when only the key set is used.
func NewLocalVerifier(keys *KeySet, secret, issuer, audience string) *LocalVerifier {
	var methods []string
	if keys != nil {
		methods = append(methods, "RS256", "RS384", "RS512", "ES256", "ES384", "ES512")
	}
	if secret != "" {
		methods = append(methods, "HS256")
	}
	return &LocalVerifier{
		keys:     keys,
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		methods:  methods,
	}
}

// Enabled reports whether any local verification method is configured.
func (v *LocalVerifier) Enabled() bool {
	return v != nil && len(v.methods) > 0
}

// Verify validates raw and returns the identity and token expiry. Errors
// wrapping ErrKeySetUnavailable are transient; all others are definitive.
func (v *LocalVerifier) Verify(_ context.Context, raw string) (models.CallerIdentity, time.Time, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, errors.New("hmac tokens not accepted")
			}
			return v.secret, nil
		default:
			if v.keys == nil {
				return nil, errors.New("no key set configured")
			}
			return v.keys.Keyfunc(t)
		}
	}, jwt.WithValidMethods(v.methods))
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return models.CallerIdentity{}, time.Time{}, err
		}
		return models.CallerIdentity{}, time.Time{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return models.CallerIdentity{}, time.Time{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	if claims.ExpiresAt == nil {
		return models.CallerIdentity{}, time.Time{}, fmt.Errorf("%w: token has no expiry", ErrUnauthenticated)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return models.CallerIdentity{}, time.Time{}, fmt.Errorf("%w: issuer mismatch", ErrUnauthenticated)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return models.CallerIdentity{}, time.Time{}, fmt.Errorf("%w: audience mismatch", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return models.CallerIdentity{}, time.Time{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return models.CallerIdentity{ID: claims.Subject, Email: claims.Email}, claims.ExpiresAt.Time, nil
}
