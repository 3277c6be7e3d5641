// Package config loads relay settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every setting the relay reads at startup.
type Config struct {
	Env      string `env:"ENV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Port     string `env:"PORT" envDefault:"9879"`

	// UpstreamURL is the API every non-admin request is relayed to.
	UpstreamURL string `env:"TOKENRELAY_UPSTREAM_URL"`
	RefreshURL  string `env:"TOKENRELAY_REFRESH_URL"`
	LoginURL    string `env:"TOKENRELAY_LOGIN_URL"`
	ClientID    string `env:"TOKENRELAY_CLIENT_ID"`

	OAuth2 OAuth2 `envPrefix:"TOKENRELAY_OAUTH2_"`
	Store  Store  `envPrefix:"TOKENRELAY_STORE_"`

	RefreshBuffer  time.Duration `env:"TOKENRELAY_REFRESH_BUFFER" envDefault:"5m"`
	RefreshTimeout time.Duration `env:"TOKENRELAY_REFRESH_TIMEOUT" envDefault:"30s"`
	RequestTimeout time.Duration `env:"TOKENRELAY_REQUEST_TIMEOUT" envDefault:"60s"`
	BackoffStep    time.Duration `env:"TOKENRELAY_BACKOFF_STEP" envDefault:"1s"`
	MaxRetries     int           `env:"TOKENRELAY_MAX_RETRIES" envDefault:"2"`

	AdminAPIKey string `env:"ADMIN_API_KEY"`
}

// OAuth2 switches token renewal to a standard form-encoded OAuth2 endpoint.
type OAuth2 struct {
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// Store selects and configures the credential store.
type Store struct {
	Backend        string `env:"BACKEND" envDefault:"file"`
	FilePath       string `env:"FILE_PATH"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"default"`
}

// Load reads a .env file from the working directory when one exists, then
// parses the environment. It does not validate, so callers can apply flag
// overrides before calling Validate.
func Load() (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Parse reads configuration from the current environment and validates it.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseLookup reads configuration through lookup instead of the process
// environment, for runtimes such as Workers that expose bindings separately.
func ParseLookup(lookup func(name string) string) (*Config, error) {
	params, err := env.GetFieldParams(&Config{})
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	environment := make(map[string]string, len(params))
	for _, p := range params {
		if v := lookup(p.Key); v != "" {
			environment[p.Key] = v
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UsesOAuth2 reports whether renewal goes through the OAuth2 token endpoint.
func (c *Config) UsesOAuth2() bool {
	return c.OAuth2.TokenURL != ""
}

// Validate checks settings that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.UpstreamURL == "" {
		errs = append(errs, errors.New("TOKENRELAY_UPSTREAM_URL is required"))
	}
	if c.RefreshURL == "" && !c.UsesOAuth2() {
		errs = append(errs, errors.New("one of TOKENRELAY_REFRESH_URL or TOKENRELAY_OAUTH2_TOKEN_URL is required"))
	}
	switch c.Store.Backend {
	case credentials.BackendMemory, credentials.BackendFile, credentials.BackendKeychain, credentials.BackendEnv:
	case credentials.BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("TOKENRELAY_STORE_REDIS_ADDR is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.RefreshBuffer < 0 {
		errs = append(errs, errors.New("TOKENRELAY_REFRESH_BUFFER must not be negative"))
	}
	if c.RefreshTimeout <= 0 {
		errs = append(errs, errors.New("TOKENRELAY_REFRESH_TIMEOUT must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("TOKENRELAY_MAX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreOptions converts the store settings for credentials.Open.
func (c *Config) StoreOptions(logger zerolog.Logger) credentials.Options {
	return credentials.Options{
		Logger:   logger,
		FilePath: c.Store.FilePath,
		Redis: credentials.RedisOptions{
			Addr:      c.Store.RedisAddr,
			Password:  c.Store.RedisPassword,
			DB:        c.Store.RedisDB,
			Namespace: c.Store.RedisNamespace,
		},
	}
}
