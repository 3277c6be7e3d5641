package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handle))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuth2RefresherRefresh(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "R1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A2","refresh_token":"R2","token_type":"Bearer","expires_in":600}`))
	})

	r := NewOAuth2Refresher(oauth2.Config{
		ClientID: "client-1",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL},
	})
	pair, err := r.Refresh(context.Background(), "R1")
	require.NoError(t, err)

	assert.Equal(t, "A2", pair.AccessToken)
	assert.Equal(t, "R2", pair.RefreshToken)
	assert.InDelta(t, (600 * time.Second).Seconds(), pair.ExpiresIn.Seconds(), 2)
}

func TestOAuth2RefresherPinsAuthStyle(t *testing.T) {
	assert.Equal(t, oauth2.AuthStyleInParams, NewOAuth2Refresher(oauth2.Config{}).config.Endpoint.AuthStyle)
	assert.Equal(t, oauth2.AuthStyleInHeader,
		NewOAuth2Refresher(oauth2.Config{ClientSecret: "s"}).config.Endpoint.AuthStyle)
	assert.Equal(t, oauth2.AuthStyleInParams,
		NewOAuth2Refresher(oauth2.Config{
			ClientSecret: "s",
			Endpoint:     oauth2.Endpoint{AuthStyle: oauth2.AuthStyleInParams},
		}).config.Endpoint.AuthStyle)
}

func TestOAuth2RefresherTranslatesErrors(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})

	r := NewOAuth2Refresher(oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL}})
	_, err := r.Refresh(context.Background(), "R1")

	var endpointErr *EndpointError
	require.ErrorAs(t, err, &endpointErr)
	assert.Equal(t, 400, endpointErr.Status)
	assert.Equal(t, "invalid_grant", endpointErr.Code)
	assert.Equal(t, "refresh token revoked", endpointErr.Description)

	var retrieveErr *oauth2.RetrieveError
	assert.ErrorAs(t, err, &retrieveErr)
}

func TestOAuth2RefresherLogin(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "secret", r.PostForm.Get("password"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"L1","refresh_token":"LR1","token_type":"Bearer","expires_in":3600}`))
	})

	r := NewOAuth2Refresher(oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL}})
	m := NewManager(credentials.NewMemoryStore(), r, WithClock(newFakeClock()))

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	status := m.Snapshot()
	assert.Equal(t, "L1", status.AccessToken)
	assert.True(t, status.HasRefreshToken)
}
