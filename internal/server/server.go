package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dvcrn/tokenrelay/internal/auth"
	"github.com/dvcrn/tokenrelay/internal/coordinator"
	"github.com/rs/zerolog"
)

// Session is the credential lifecycle the admin endpoints drive.
type Session interface {
	SetCredential(accessToken, refreshToken string, expiresIn time.Duration) bool
	ClearCredential()
	Login(ctx context.Context, username, password string) error
	RefreshAccessToken(ctx context.Context) (string, error)
	Snapshot() auth.Status
}

// Upstream issues coordinated calls to the relayed API.
type Upstream interface {
	Call(ctx context.Context, operation string, opts coordinator.Options) (*coordinator.Response, error)
	CallWithRetry(ctx context.Context, operation string, opts coordinator.Options, maxRetries int) (*coordinator.Response, error)
}

type Server struct {
	session  Session
	upstream Upstream
	adminKey string
	mux      *http.ServeMux
	logger   zerolog.Logger
	now      func() time.Time
}

func New(logger zerolog.Logger, session Session, upstream Upstream, adminKey string) *Server {
	s := &Server{
		session:  session,
		upstream: upstream,
		adminKey: adminKey,
		mux:      http.NewServeMux(),
		logger:   logger,
		now:      time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/admin/login", s.adminMiddleware(s.loginHandler))
	s.mux.HandleFunc("/admin/credentials", s.adminMiddleware(s.credentialsHandler))
	s.mux.HandleFunc("/admin/credentials/status", s.adminMiddleware(s.credentialsStatusHandler))
	s.mux.HandleFunc("/admin/credentials/refresh", s.adminMiddleware(s.credentialsRefreshHandler))
	s.mux.HandleFunc("/admin/", s.notFoundHandler)
	s.mux.HandleFunc("/", s.relayHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.loggingMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type          string `json:"type"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail errorDetail) {
	if detail.CorrelationID != "" {
		w.Header().Set(coordinator.HeaderCorrelationID, detail.CorrelationID)
	}
	s.writeJSON(w, status, errorBody{Error: detail})
}
