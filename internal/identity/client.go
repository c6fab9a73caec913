package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client resolves tokens against the hosted identity service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new identity client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ResolveToken asks the identity service which user the token belongs to.
func (c *Client) ResolveToken(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/auth/v1/user", c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: resolve token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrTokenRejected
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("identity: service returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("identity: read response: %w", err)
	}
	var user User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}
	if user.ID == "" {
		return nil, ErrTokenRejected
	}
	return &user, nil
}
