package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	pathMe     = "users/me"
	pathTokens = "users/tokens"
)

type createTokenRequest struct {
	ExpiresAt string `json:"expires_at"`
}

// Me returns the authenticated user. It doubles as the session self-check.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, pathMe, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching user profile: %w", err)
	}

	u, err := DecodeUser(resp.Body)
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// Tokens lists the user's long-lived API tokens.
func (c *Client) Tokens(ctx context.Context) ([]APIToken, error) {
	resp, err := c.Do(ctx, http.MethodGet, pathTokens, nil)
	if err != nil {
		return nil, fmt.Errorf("listing API tokens: %w", err)
	}

	return DecodeTokens(resp.Body)
}

// CreateToken issues a new API token that expires at expiresAt.
func (c *Client) CreateToken(ctx context.Context, expiresAt time.Time) (*APIToken, error) {
	data, err := json.Marshal(createTokenRequest{ExpiresAt: expiresAt.UTC().Format(time.RFC3339)})
	if err != nil {
		return nil, fmt.Errorf("api: encoding token request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, pathTokens, &Body{ContentType: contentTypeJSON, Data: data})
	if err != nil {
		return nil, fmt.Errorf("creating API token: %w", err)
	}

	t, err := DecodeToken(resp.Body)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
