package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Refresher renews tokens through a standard OAuth2 token endpoint
// (form-encoded refresh_token and password grants).
type OAuth2Refresher struct {
	config oauth2.Config
	now    func() time.Time
}

// NewOAuth2Refresher copies cfg. An auto-detected auth style is pinned so that a
// failed exchange is never retried with the other style.
func NewOAuth2Refresher(cfg oauth2.Config) *OAuth2Refresher {
	if cfg.Endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
		if cfg.ClientSecret != "" {
			cfg.Endpoint.AuthStyle = oauth2.AuthStyleInHeader
		} else {
			cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
		}
	}
	return &OAuth2Refresher{config: cfg, now: time.Now}
}

func (o *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tok, err := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, translateOAuth2Error(err)
	}
	return o.pair(tok), nil
}

func (o *OAuth2Refresher) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	tok, err := o.config.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, translateOAuth2Error(err)
	}
	return o.pair(tok), nil
}

func (o *OAuth2Refresher) pair(tok *oauth2.Token) *TokenPair {
	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = tok.Expiry.Sub(o.now())
	}
	return &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
	}
}

func translateOAuth2Error(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return fmt.Errorf("oauth2 token request: %w", err)
	}
	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	return &EndpointError{
		Status:      status,
		Code:        retrieveErr.ErrorCode,
		Description: retrieveErr.ErrorDescription,
		Err:         err,
	}
}
