package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindNetwork means no response arrived at all. Status is 0.
	KindNetwork Kind = iota
	// KindServer is a 5xx response.
	KindServer
	// KindClient is any other non-2xx response except 401.
	KindClient
	// KindAuthRejected is a 401. The session has already been cleared.
	KindAuthRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindAuthRejected:
		return "auth_rejected"
	default:
		return "unknown"
	}
}

// Error describes a failed coordinated call.
type Error struct {
	Kind          Kind
	Status        int
	Operation     string
	CorrelationID string

	// Code and Message come from a structured error payload when the upstream sent one.
	Code    string
	Message string
	Header  http.Header
	Body    []byte
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s error", e.Operation, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + " [correlation_id=" + e.CorrelationID + "]"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether CallWithRetry may re-issue the call.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

func kindOf(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthRejected
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// errorPayload covers the structured error bodies upstreams commonly send.
type errorPayload struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
	Code             string          `json:"code"`
}

// parseErrorPayload extracts a code and message from body. Both are empty when
// the body is not a recognised JSON error.
func parseErrorPayload(body []byte) (code, message string) {
	var p errorPayload
	if len(body) == 0 || json.Unmarshal(body, &p) != nil {
		return "", ""
	}
	code, message = p.Code, p.Message
	if p.ErrorDescription != "" {
		message = p.ErrorDescription
	}

	if len(p.Error) > 0 {
		var s string
		if json.Unmarshal(p.Error, &s) == nil {
			code = s
		} else {
			var nested struct {
				Type    string `json:"type"`
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(p.Error, &nested) == nil {
				if nested.Code != "" {
					code = nested.Code
				} else if nested.Type != "" {
					code = nested.Type
				}
				if nested.Message != "" {
					message = nested.Message
				}
			}
		}
	}
	return code, message
}
