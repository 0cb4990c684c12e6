package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pario-ai/rephrase/pkg/models"
)

// RemoteChecker asks the identity backend who owns a token.
type RemoteChecker struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewRemoteChecker creates a checker calling GET url with the bearer token.
func NewRemoteChecker(url, apiKey string, timeout time.Duration, client *http.Client) *RemoteChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteChecker{url: url, apiKey: apiKey, timeout: timeout, client: client}
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Check resolves token. A rejection by the backend wraps ErrUnauthenticated;
// any other error is transient.
func (c *RemoteChecker) Check(ctx context.Context, token string) (models.CallerIdentity, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.CallerIdentity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.CallerIdentity{}, fmt.Errorf("identity check: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.CallerIdentity{}, fmt.Errorf("%w: identity backend returned %d", ErrUnauthenticated, resp.StatusCode)
	default:
		return models.CallerIdentity{}, fmt.Errorf("identity check: status %d", resp.StatusCode)
	}

	var u remoteUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return models.CallerIdentity{}, fmt.Errorf("decode identity: %w", err)
	}
	if u.ID == "" {
		return models.CallerIdentity{}, fmt.Errorf("%w: identity backend returned no id", ErrUnauthenticated)
	}
	return models.CallerIdentity{ID: u.ID, Email: u.Email}, nil
}
