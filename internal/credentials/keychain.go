package credentials

import (
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const keychainService = "tokenrelay-credentials"

type keychainEntry struct {
	value   string
	fetched time.Time
}

// KeychainStore keeps each credential key as a generic password in the macOS
// keychain, with a short in-memory cache in front of the `security` CLI.
type KeychainStore struct {
	mu       sync.RWMutex
	cache    map[string]keychainEntry
	cacheTTL time.Duration
	service  string
	logger   *zerolog.Logger
	run      func(name string, args ...string) ([]byte, error)
}

// NewKeychainStore creates a new keychain-based store
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{
		cache:    make(map[string]keychainEntry),
		cacheTTL: 5 * time.Minute,
		service:  keychainService,
		run:      runSecurity,
	}
}

// NewKeychainStoreWithLogger creates a new keychain-based store with logger
func NewKeychainStoreWithLogger(logger zerolog.Logger) *KeychainStore {
	k := NewKeychainStore()
	k.logger = &logger
	return k
}

func (k *KeychainStore) Read(key string) (string, bool) {
	k.mu.RLock()
	if e, ok := k.cache[key]; ok && time.Since(e.fetched) < k.cacheTTL {
		k.mu.RUnlock()
		return e.value, true
	}
	k.mu.RUnlock()

	out, err := k.run("security", "find-generic-password", "-s", k.service, "-a", key, "-w")
	if err != nil {
		if k.logger != nil {
			k.logger.Debug().Err(err).Str("key", key).Msg("Keychain lookup failed")
		}
		return "", false
	}
	value := strings.TrimRight(string(out), "\n")

	k.mu.Lock()
	k.cache[key] = keychainEntry{value: value, fetched: time.Now()}
	k.mu.Unlock()
	return value, true
}

func (k *KeychainStore) Write(key, value string) bool {
	if _, err := k.run("security", "add-generic-password", "-s", k.service, "-a", key, "-w", value, "-U"); err != nil {
		if k.logger != nil {
			k.logger.Error().Err(err).Str("key", key).Msg("Failed to update keychain")
		}
		k.forget(key)
		return false
	}
	k.mu.Lock()
	k.cache[key] = keychainEntry{value: value, fetched: time.Now()}
	k.mu.Unlock()
	return true
}

func (k *KeychainStore) Remove(key string) {
	k.forget(key)
	_, _ = k.run("security", "delete-generic-password", "-s", k.service, "-a", key)
}

func (k *KeychainStore) forget(key string) {
	k.mu.Lock()
	delete(k.cache, key)
	k.mu.Unlock()
}

func runSecurity(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}
