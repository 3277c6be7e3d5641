package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvcrn/tokenrelay/internal/auth"
	"github.com/dvcrn/tokenrelay/internal/config"
	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/dvcrn/tokenrelay/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(upstream, refresh string) *config.Config {
	return &config.Config{
		UpstreamURL:    upstream,
		RefreshURL:     refresh,
		RefreshBuffer:  5 * time.Minute,
		RefreshTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
		BackoffStep:    time.Millisecond,
		MaxRetries:     2,
		AdminAPIKey:    "k",
	}
}

func TestRelayRefreshesExpiringCredential(t *testing.T) {
	var refreshes atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"R2","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"auth": r.Header.Get("Authorization")})
	}))
	defer upstream.Close()

	store := credentials.NewMemoryStore()
	a := New(testConfig(upstream.URL, tokenSrv.URL), store, zerolog.Nop())
	defer a.Close()

	var refreshed []string
	events.Subscribe(a.Bus, func(e events.CredentialRefreshed) {
		refreshed = append(refreshed, e.AccessToken)
	})

	// An unknown expiry is renewed before use, without arming a timer.
	a.Manager.SetCredential("stale", "R1", 0)

	rec := httptest.NewRecorder()
	a.Server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"auth":"Bearer fresh"}`, rec.Body.String())
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, []string{"fresh"}, refreshed)

	persisted, _ := store.Read(credentials.KeyRefreshToken)
	assert.Equal(t, "R2", persisted)
}

func TestNewRefresherSelection(t *testing.T) {
	cfg := testConfig("http://upstream", "http://auth/refresh")
	_, ok := NewRefresher(cfg).(*auth.HTTPEndpoint)
	assert.True(t, ok)

	cfg.OAuth2.TokenURL = "http://auth/token"
	_, ok = NewRefresher(cfg).(*auth.OAuth2Refresher)
	assert.True(t, ok)
}

type closingStore struct {
	*credentials.MemoryStore
	closed bool
}

func (c *closingStore) Close() error {
	c.closed = true
	return nil
}

func TestCloseReleasesStore(t *testing.T) {
	store := &closingStore{MemoryStore: credentials.NewMemoryStore()}
	a := New(testConfig("http://upstream", "http://auth/refresh"), store, zerolog.Nop())
	a.Manager.SetCredential("A1", "R1", time.Hour)

	require.NoError(t, a.Close())
	assert.True(t, store.closed)

	v, ok := store.Read(credentials.KeyAccessToken)
	assert.True(t, ok, "closing keeps the persisted credential")
	assert.Equal(t, "A1", v)
}
