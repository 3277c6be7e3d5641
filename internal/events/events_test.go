package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesOnlyItsKind(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var refreshed []CredentialRefreshed
	var apiErrors []APIError
	Subscribe(bus, func(e CredentialRefreshed) { refreshed = append(refreshed, e) })
	Subscribe(bus, func(e APIError) { apiErrors = append(apiErrors, e) })

	bus.Publish(CredentialRefreshed{AccessToken: "A2"})
	bus.Publish(APIError{Operation: "getUser", Status: 503, CorrelationID: "abc"})
	bus.Publish(AuthError{Operation: "getUser"})

	require.Len(t, refreshed, 1)
	assert.Equal(t, "A2", refreshed[0].AccessToken)
	require.Len(t, apiErrors, 1)
	assert.Equal(t, 503, apiErrors[0].Status)
	assert.Equal(t, "abc", apiErrors[0].CorrelationID)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var first, second int
	sub := Subscribe(bus, func(AuthError) { first++ })
	Subscribe(bus, func(AuthError) { second++ })

	bus.Publish(AuthError{})
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Publish(AuthError{})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got error
	Subscribe(bus, func(CredentialRefreshFailed) { panic("boom") })
	Subscribe(bus, func(e CredentialRefreshFailed) { got = e.Err })

	want := errors.New("refresh endpoint unreachable")
	assert.NotPanics(t, func() { bus.Publish(CredentialRefreshFailed{Err: want}) })
	assert.Equal(t, want, got)
}

func TestKinds(t *testing.T) {
	assert.Equal(t, Kind("credential-refreshed"), CredentialRefreshed{}.Kind())
	assert.Equal(t, Kind("credential-refresh-failed"), CredentialRefreshFailed{}.Kind())
	assert.Equal(t, Kind("api-error"), APIError{}.Kind())
	assert.Equal(t, Kind("auth-error"), AuthError{}.Kind())
}
