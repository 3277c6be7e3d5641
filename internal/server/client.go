//go:build !js || !wasm

package server

import (
	"net/http"
	"time"
)

// NewHTTPClient creates a new HTTP client for regular environments
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
