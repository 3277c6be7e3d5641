package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no credential is held.
	ErrUnauthenticated = errors.New("session is not authenticated")
	// ErrTokenExpired means the access token is past its expiry and no refresh is in flight.
	ErrTokenExpired = errors.New("access token expired")
	// ErrNoRefreshToken means the session cannot renew itself.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshFailed matches every *RefreshError.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoAuthenticator is returned by Login when no login endpoint is configured.
	ErrNoAuthenticator = errors.New("login endpoint not configured")
)

// RefreshError wraps the cause of a failed refresh. errors.Is(err, ErrRefreshFailed) holds.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Err}
}

// EndpointError is a non-success response from a token endpoint.
type EndpointError struct {
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *EndpointError) Error() string {
	msg := fmt.Sprintf("token endpoint returned status %d", e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}
