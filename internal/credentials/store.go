package credentials

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Persisted key names. token_expiry holds epoch milliseconds as a decimal string.
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
)

// Keys lists every key a credential occupies in a Store.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyTokenExpiry}

// Store is a string key-value medium for credential material.
//
// Implementations never return errors: Read reports false for a missing key or
// an unavailable medium, Write reports false when the value was not persisted,
// and Remove is best effort.
type Store interface {
	Read(key string) (string, bool)
	Write(key, value string) bool
	Remove(key string)
}

// Credential is the session material held in a Store.
type Credential struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is epoch milliseconds; zero means the expiry is unknown.
	ExpiresAt int64
}

// Load reads a credential from the store. It returns nil when no access token is stored.
func Load(s Store) *Credential {
	access, ok := s.Read(KeyAccessToken)
	if !ok || access == "" {
		return nil
	}
	c := &Credential{AccessToken: access}
	if refresh, ok := s.Read(KeyRefreshToken); ok {
		c.RefreshToken = refresh
	}
	if raw, ok := s.Read(KeyTokenExpiry); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			c.ExpiresAt = ms
		}
	}
	return c
}

// Save writes all three fields and reports whether every write succeeded.
// An empty refresh token or unknown expiry removes the corresponding key.
func Save(s Store, c Credential) bool {
	ok := s.Write(KeyAccessToken, c.AccessToken)
	if c.RefreshToken != "" {
		ok = s.Write(KeyRefreshToken, c.RefreshToken) && ok
	} else {
		s.Remove(KeyRefreshToken)
	}
	if c.ExpiresAt > 0 {
		ok = s.Write(KeyTokenExpiry, strconv.FormatInt(c.ExpiresAt, 10)) && ok
	} else {
		s.Remove(KeyTokenExpiry)
	}
	return ok
}

// Clear removes every credential key from the store.
func Clear(s Store) {
	for _, k := range Keys {
		s.Remove(k)
	}
}

// MemoryStore keeps credentials in process memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Read(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Write(key, value string) bool {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return true
}

func (m *MemoryStore) Remove(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendKeychain = "keychain"
	BackendEnv      = "env"
)

// Options carries the settings each backend needs; unused fields are ignored.
type Options struct {
	FilePath string
	Redis    RedisOptions

	// Logger is used by backends that log their own failures.
	Logger zerolog.Logger
}

// Open constructs the named backend.
func Open(backend string, opts Options) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendFile:
		path := opts.FilePath
		if path == "" {
			path = DefaultStorePath()
		}
		if path == "" {
			return nil, fmt.Errorf("could not resolve credentials file path")
		}
		return NewFileStore(path), nil
	case BackendRedis:
		return NewRedisStore(opts.Redis)
	case BackendKeychain:
		return NewKeychainStoreWithLogger(opts.Logger), nil
	case BackendEnv:
		return NewEnvStore(), nil
	default:
		return nil, fmt.Errorf("unknown credential store backend %q", backend)
	}
}
