package app

import (
	"io"

	"github.com/dvcrn/tokenrelay/internal/auth"
	"github.com/dvcrn/tokenrelay/internal/config"
	"github.com/dvcrn/tokenrelay/internal/coordinator"
	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/dvcrn/tokenrelay/internal/events"
	"github.com/dvcrn/tokenrelay/internal/server"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// App is the relay with its session, coordinator and event bus wired together.
type App struct {
	Server      *server.Server
	Manager     *auth.Manager
	Coordinator *coordinator.Coordinator
	Bus         *events.Bus

	store  credentials.Store
	logger zerolog.Logger
}

// New wires the relay around store. The store is closed by Close when it
// implements io.Closer.
func New(cfg *config.Config, store credentials.Store, logger zerolog.Logger) *App {
	bus := events.NewBus(logger)
	watchEvents(bus, logger)

	manager := auth.NewManager(store, NewRefresher(cfg),
		auth.WithLogger(logger),
		auth.WithEvents(bus),
		auth.WithRefreshBuffer(cfg.RefreshBuffer),
		auth.WithRefreshTimeout(cfg.RefreshTimeout),
	)

	coord := coordinator.New(cfg.UpstreamURL, manager,
		coordinator.WithHTTPClient(server.NewHTTPClient(cfg.RequestTimeout)),
		coordinator.WithEvents(bus),
		coordinator.WithLogger(logger),
		coordinator.WithMaxRetries(cfg.MaxRetries),
		coordinator.WithBackoffStep(cfg.BackoffStep),
	)

	return &App{
		Server:      server.New(logger, manager, coord, cfg.AdminAPIKey),
		Manager:     manager,
		Coordinator: coord,
		Bus:         bus,
		store:       store,
		logger:      logger,
	}
}

// NewRefresher picks the token endpoint client: OAuth2 when a token URL is
// configured, the JSON refresh endpoint otherwise.
func NewRefresher(cfg *config.Config) auth.Refresher {
	if cfg.UsesOAuth2() {
		return auth.NewOAuth2Refresher(oauth2.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			Scopes:       cfg.OAuth2.Scopes,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth2.TokenURL},
		})
	}
	return auth.NewHTTPEndpoint(cfg.RefreshURL, cfg.LoginURL, cfg.ClientID, server.NewHTTPClient(cfg.RefreshTimeout))
}

// watchEvents logs the session signals an operator needs to act on.
func watchEvents(bus *events.Bus, logger zerolog.Logger) {
	events.Subscribe(bus, func(e events.CredentialRefreshed) {
		logger.Info().Str("token_preview", auth.Preview(e.AccessToken)).Msg("🔑 Credential refreshed")
	})
	events.Subscribe(bus, func(e events.CredentialRefreshFailed) {
		logger.Error().Err(e.Err).Msg("🚪 Session ended: refresh failed, log in again via /admin/login")
	})
	events.Subscribe(bus, func(e events.AuthError) {
		logger.Warn().
			Str("operation", e.Operation).
			Str("correlation_id", e.CorrelationID).
			Msg("🚪 Session ended: upstream rejected the credential")
	})
}

// Close stops the proactive refresh and releases the store.
func (a *App) Close() error {
	a.Manager.Close()
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
