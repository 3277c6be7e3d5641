package credentials

import "os"

var envKeys = map[string]string{
	KeyAccessToken:  "TOKENRELAY_AUTH_TOKEN",
	KeyRefreshToken: "TOKENRELAY_REFRESH_TOKEN",
	KeyTokenExpiry:  "TOKENRELAY_TOKEN_EXPIRY",
}

// EnvStore is a read-only store seeded from environment variables.
// Writes are never persisted, so refreshed tokens last for the process only.
type EnvStore struct{}

// NewEnvStore creates a new environment-based store
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

func (e *EnvStore) Read(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok {
		return "", false
	}
	v := os.Getenv(name)
	return v, v != ""
}

// Write always reports false: the environment is not a persistent medium.
func (e *EnvStore) Write(key, value string) bool {
	return false
}

// Remove is a no-op for environment credentials
func (e *EnvStore) Remove(key string) {}
