package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dvcrn/tokenrelay/internal/auth"
)

// adminMiddleware checks for valid admin API key from either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers.
func (s *Server) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			s.logger.Error().Msg("ADMIN_API_KEY environment variable not set")
			http.Error(w, "Admin API not configured", http.StatusInternalServerError)
			return
		}

		var providedToken string
		authHeader := r.Header.Get("Authorization")
		xAPIKeyHeader := r.Header.Get("X-API-Key")

		if authHeader != "" {
			// Expect "Bearer <token>" format, case-insensitive
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				s.logger.Warn().
					Str("method", r.Method).
					Str("uri", r.RequestURI).
					Str("remote_addr", r.RemoteAddr).
					Msg("Invalid Authorization header format for admin endpoint")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}
			providedToken = parts[1]
		} else if xAPIKeyHeader != "" {
			providedToken = xAPIKeyHeader
		} else {
			s.logger.Warn().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Missing required Authorization or X-API-Key header for admin endpoint")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.adminKey)) != 1 {
			s.logger.Warn().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Invalid admin API key provided")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin request authorized")

		next(w, r)
	}
}

// loginHandler handles POST /admin/login
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var reqBody struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reqBody.Username == "" || reqBody.Password == "" {
		http.Error(w, "Missing required fields: username, password", http.StatusBadRequest)
		return
	}

	err := s.session.Login(r.Context(), reqBody.Username, reqBody.Password)
	var endpointErr *auth.EndpointError
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNoAuthenticator):
		s.writeError(w, http.StatusNotImplemented, errorDetail{Type: "not_configured", Message: err.Error()})
		return
	case errors.As(err, &endpointErr) && endpointErr.Status >= 400 && endpointErr.Status < 500:
		s.logger.Warn().Int("status", endpointErr.Status).Str("code", endpointErr.Code).Msg("Login rejected")
		s.writeError(w, http.StatusUnauthorized, errorDetail{Type: "login_rejected", Code: endpointErr.Code, Message: endpointErr.Error()})
		return
	default:
		s.logger.Error().Err(err).Msg("❌ Login failed")
		s.writeError(w, http.StatusBadGateway, errorDetail{Type: "login_failed", Message: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Logged in successfully",
	})
}

// credentialsHandler handles POST /admin/credentials for setting tokens and
// DELETE /admin/credentials for ending the session.
func (s *Server) credentialsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		s.session.ClearCredential()
		s.logger.Info().Msg("Credentials cleared")
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Credentials cleared",
		})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// expiresIn is in seconds; expiresAt (epoch ms) is accepted when expiresIn is absent.
	var reqBody struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
		ExpiresAt    int64  `json:"expiresAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reqBody.AccessToken == "" {
		http.Error(w, "Missing required field: accessToken", http.StatusBadRequest)
		return
	}

	expiresIn := time.Duration(reqBody.ExpiresIn) * time.Second
	if reqBody.ExpiresIn == 0 && reqBody.ExpiresAt != 0 {
		expiresIn = time.UnixMilli(reqBody.ExpiresAt).Sub(s.now())
		if expiresIn <= 0 {
			http.Error(w, "expiresAt is in the past", http.StatusBadRequest)
			return
		}
	}

	persisted := s.session.SetCredential(reqBody.AccessToken, reqBody.RefreshToken, expiresIn)
	s.logger.Info().Bool("persisted", persisted).Msg("Credentials updated successfully")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "Credentials updated successfully",
		"persisted": persisted,
	})
}

// credentialsStatusHandler handles GET /admin/credentials/status
func (s *Server) credentialsStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	st := s.session.Snapshot()
	response := map[string]any{
		"state":           st.State.String(),
		"hasCredentials":  st.AccessToken != "",
		"hasRefreshToken": st.HasRefreshToken,
	}
	if st.AccessToken != "" {
		response["tokenPreview"] = auth.Preview(st.AccessToken)
	}
	if !st.ExpiresAt.IsZero() {
		secondsUntilExpiry := int64(st.ExpiresAt.Sub(s.now()) / time.Second)
		response["expiresAt"] = st.ExpiresAt.UnixMilli()
		response["secondsUntilExpiry"] = secondsUntilExpiry
		response["isExpired"] = secondsUntilExpiry <= 0
	}

	s.writeJSON(w, http.StatusOK, response)
}

// credentialsRefreshHandler handles POST /admin/credentials/refresh
func (s *Server) credentialsRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token, err := s.session.RefreshAccessToken(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNoRefreshToken), errors.Is(err, auth.ErrRefreshFailed), errors.Is(err, auth.ErrUnauthenticated):
		s.writeError(w, http.StatusUnauthorized, errorDetail{Type: "session_ended", Message: err.Error()})
		return
	default:
		s.writeError(w, http.StatusBadGateway, errorDetail{Type: "refresh_failed", Message: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"tokenPreview": auth.Preview(token),
	})
}
