package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/dvcrn/tokenrelay/internal/auth"
	"github.com/dvcrn/tokenrelay/internal/coordinator"
)

// Headers that describe a single hop, or carry credentials meant for the relay
// itself, are never forwarded.
var skippedHeaders = map[string]bool{
	"Authorization":       true,
	"X-Api-Key":           true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Host":                true,
	"Accept-Encoding":     true,
}

func forwardable(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		if skippedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if skippedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// relayHandler forwards every other request upstream with the session
// credential attached. Reads are retried, writes are sent once.
func (s *Server) relayHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error reading request body")
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	opts := coordinator.Options{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: forwardable(r.Header),
	}
	if len(body) > 0 {
		opts.Body = body
	}
	operation := r.Method + " " + r.URL.Path

	var resp *coordinator.Response
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		resp, err = s.upstream.CallWithRetry(r.Context(), operation, opts, -1)
	} else {
		resp, err = s.upstream.Call(r.Context(), operation, opts)
	}
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set(coordinator.HeaderCorrelationID, resp.CorrelationID)
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var callErr *coordinator.Error
	if !errors.As(err, &callErr) {
		// The call never left: no usable credential or the client went away.
		if errors.Is(err, auth.ErrRefreshFailed) {
			s.writeError(w, http.StatusUnauthorized, errorDetail{Type: "session_ended", Message: err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("❌ Relay failed before reaching upstream")
		s.writeError(w, http.StatusBadGateway, errorDetail{Type: "relay_error", Message: err.Error()})
		return
	}

	if callErr.Kind == coordinator.KindNetwork {
		s.writeError(w, http.StatusBadGateway, errorDetail{
			Type:          "network_error",
			Message:       "upstream unreachable",
			CorrelationID: callErr.CorrelationID,
		})
		return
	}

	// Pass the upstream's own error response through when it sent one.
	if len(callErr.Body) > 0 {
		copyHeaders(w.Header(), callErr.Header)
		w.Header().Set(coordinator.HeaderCorrelationID, callErr.CorrelationID)
		w.WriteHeader(callErr.Status)
		w.Write(callErr.Body)
		return
	}

	message := callErr.Message
	if message == "" {
		message = http.StatusText(callErr.Status)
	}
	s.writeError(w, callErr.Status, errorDetail{
		Type:          callErr.Kind.String() + "_error",
		Code:          callErr.Code,
		Message:       message,
		CorrelationID: callErr.CorrelationID,
	})
}
