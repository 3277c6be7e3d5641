package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvcrn/tokenrelay/internal/app"
	"github.com/dvcrn/tokenrelay/internal/auth"
	"github.com/dvcrn/tokenrelay/internal/config"
	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/dvcrn/tokenrelay/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	port := flag.String("port", "", "Port to listen on (default: PORT env or 9879)")
	storeBackend := flag.String("store", "", "Credential store: memory, file, redis, keychain or env")
	storePath := flag.String("store-path", "", "Path of the file credential store")
	upstream := flag.String("upstream", "", "Upstream API base URL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("", "")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyFlags(cfg, *port, *storeBackend, *storePath, *upstream)

	log := logger.New(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	store, err := credentials.Open(cfg.Store.Backend, cfg.StoreOptions(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open credential store")
	}
	if fs, ok := store.(*credentials.FileStore); ok {
		log.Info().
			Str("path", fs.Path).
			Bool("exists", credentials.FileExists(fs.Path)).
			Msg("📄 Using filesystem credential store")
	} else {
		log.Info().Str("backend", cfg.Store.Backend).Msg("📦 Using credential store")
	}

	a := app.New(cfg, store, log)
	defer a.Close()

	validateCredentialsAtStartup(a.Manager, log)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: a.Server}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("upstream", cfg.UpstreamURL).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
	log.Info().Msg("Server stopped")
}

func applyFlags(cfg *config.Config, port, storeBackend, storePath, upstream string) {
	if port != "" {
		cfg.Port = port
	}
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}
	if storePath != "" {
		cfg.Store.FilePath = storePath
	}
	if upstream != "" {
		cfg.UpstreamURL = upstream
	}
}

func validateCredentialsAtStartup(m *auth.Manager, log zerolog.Logger) {
	st := m.Snapshot()
	if st.State == auth.StateUnauthenticated {
		log.Warn().Msg("⚠️  No credential stored, log in via POST /admin/login or POST /admin/credentials")
		return
	}

	if st.ExpiresAt.IsZero() {
		log.Warn().Msg("⚠️  Token expiry unknown, will refresh on first request")
		return
	}

	minutesUntilExpiry := int64(time.Until(st.ExpiresAt) / time.Minute)
	switch {
	case minutesUntilExpiry <= 0:
		log.Warn().
			Int64("minutes_expired", -minutesUntilExpiry).
			Bool("has_refresh_token", st.HasRefreshToken).
			Msg("⚠️  Token is already expired, a refresh has been scheduled")
	case minutesUntilExpiry <= 60:
		log.Warn().
			Int64("minutes_until_expiry", minutesUntilExpiry).
			Msg("⚠️  Token expires soon, will refresh shortly")
	default:
		log.Info().
			Int64("minutes_until_expiry", minutesUntilExpiry).
			Msg("✅ Token is valid and not expiring soon")
	}
}
