package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultRefreshBuffer is how long before expiry a token is renewed.
	DefaultRefreshBuffer = 5 * time.Minute
	// DefaultRefreshTimeout bounds a single call to the refresh endpoint.
	DefaultRefreshTimeout = 30 * time.Second
)

// HTTPDoer is the subset of *http.Client the endpoints need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPEndpoint talks JSON to a refresh endpoint and, optionally, a login endpoint.
type HTTPEndpoint struct {
	RefreshURL string
	LoginURL   string
	ClientID   string
	client     HTTPDoer
}

// NewHTTPEndpoint creates an endpoint client. A nil client uses a 30s-timeout http.Client.
func NewHTTPEndpoint(refreshURL, loginURL, clientID string, client HTTPDoer) *HTTPEndpoint {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPEndpoint{
		RefreshURL: refreshURL,
		LoginURL:   loginURL,
		ClientID:   clientID,
		client:     client,
	}
}

// Refresh exchanges a refresh token for a new token pair
func (e *HTTPEndpoint) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return e.post(ctx, e.RefreshURL, TokenRefreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     e.ClientID,
	})
}

// Login exchanges user credentials for an initial token pair
func (e *HTTPEndpoint) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if e.LoginURL == "" {
		return nil, ErrNoAuthenticator
	}
	return e.post(ctx, e.LoginURL, LoginRequest{
		Username: username,
		Password: password,
		ClientID: e.ClientID,
	})
}

func (e *HTTPEndpoint) post(ctx context.Context, url string, payload any) (*TokenPair, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		endpointErr := &EndpointError{Status: resp.StatusCode}
		var parsed errorResponse
		if json.Unmarshal(body, &parsed) == nil {
			endpointErr.Code = parsed.Error
			endpointErr.Description = parsed.ErrorDescription
			if endpointErr.Description == "" {
				endpointErr.Description = parsed.Message
			}
		}
		return nil, endpointErr
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return tokenResp.pair(), nil
}
