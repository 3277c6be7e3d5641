// Package events is a typed publish/subscribe channel for session signals.
//
// Handlers run synchronously on the publishing goroutine, in subscription
// order. A handler must not block on the operation that published the event.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Kind names a signal.
type Kind string

const (
	KindCredentialRefreshed     Kind = "credential-refreshed"
	KindCredentialRefreshFailed Kind = "credential-refresh-failed"
	KindAPIError                Kind = "api-error"
	KindAuthError               Kind = "auth-error"
)

// Event is implemented by every signal type.
type Event interface {
	Kind() Kind
}

// CredentialRefreshed is published after a refresh has been persisted.
type CredentialRefreshed struct {
	AccessToken string
}

func (CredentialRefreshed) Kind() Kind { return KindCredentialRefreshed }

// CredentialRefreshFailed is published when a refresh fails and the session is torn down.
type CredentialRefreshFailed struct {
	Err error
}

func (CredentialRefreshFailed) Kind() Kind { return KindCredentialRefreshFailed }

// APIError is published for every failed coordinated call other than an auth rejection.
type APIError struct {
	Operation     string
	Err           error
	Status        int
	CorrelationID string
}

func (APIError) Kind() Kind { return KindAPIError }

// AuthError is published when the remote API rejects the credential.
type AuthError struct {
	Operation     string
	CorrelationID string
}

func (AuthError) Kind() Kind { return KindAuthError }

// Publisher is the sending half of a Bus.
type Publisher interface {
	Publish(e Event)
}

type handlerEntry struct {
	id      uint64
	handler func(Event)
}

// Bus delivers events to handlers registered for their kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]handlerEntry
	nextID   atomic.Uint64
	logger   zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]handlerEntry),
		logger:   logger,
	}
}

// Subscription can be cancelled with Unsubscribe.
type Subscription struct {
	id   uint64
	kind Kind
	bus  *Bus
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.kind, s.id)
}

// Subscribe registers fn for events of type E.
func Subscribe[E Event](b *Bus, fn func(E)) *Subscription {
	var zero E
	kind := zero.Kind()
	id := b.nextID.Add(1)

	wrapped := func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	}

	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], handlerEntry{id: id, handler: wrapped})
	b.mu.Unlock()

	return &Subscription{id: id, kind: kind, bus: b}
}

// Publish delivers e to every handler subscribed to its kind.
// A panicking handler is logged and does not stop delivery to the rest.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[e.Kind()]...)
	b.mu.RUnlock()

	for _, entry := range entries {
		b.dispatch(e, entry)
	}
}

func (b *Bus) dispatch(e Event, entry handlerEntry) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", string(e.Kind())).
				Str("panic", fmt.Sprint(r)).
				Msg("Event handler panicked")
		}
	}()
	entry.handler(e)
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.handlers[kind]
	for i, e := range entries {
		if e.id == id {
			b.handlers[kind] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[kind]) == 0 {
		delete(b.handlers, kind)
	}
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
