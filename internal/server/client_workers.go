//go:build js && wasm

package server

import (
	"net/http"
	"time"
)

// NewHTTPClient creates a client for the Workers runtime, which enforces its
// own subrequest limits, so timeout is ignored.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{}
}
