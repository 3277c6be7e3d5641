package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/dvcrn/tokenrelay/internal/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// State is the validity of the held credential.
type State int

const (
	StateUnauthenticated State = iota
	StateValid
	StateExpiringSoon
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// Authenticator exchanges user credentials for an initial token pair.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*TokenPair, error)
}

const refreshKey = "refresh"

// Manager owns the session credential: it persists it, renews it ahead of
// expiry, and collapses concurrent renewals into a single endpoint call.
type Manager struct {
	store          credentials.Store
	refresher      Refresher
	authenticator  Authenticator
	clock          Clock
	events         events.Publisher
	logger         zerolog.Logger
	buffer         time.Duration
	refreshTimeout time.Duration

	group singleflight.Group

	mu         sync.Mutex
	cred       *credentials.Credential
	refreshing bool
	task       Task
	// generation changes whenever the credential is replaced or cleared; it
	// lets stale timers and superseded refreshes detect that they lost.
	generation uint64
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithEvents(p events.Publisher) Option { return func(m *Manager) { m.events = p } }

func WithRefreshBuffer(d time.Duration) Option { return func(m *Manager) { m.buffer = d } }

func WithRefreshTimeout(d time.Duration) Option { return func(m *Manager) { m.refreshTimeout = d } }

// WithAuthenticator sets the login endpoint. By default the refresher is used
// when it also implements Authenticator.
func WithAuthenticator(a Authenticator) Option { return func(m *Manager) { m.authenticator = a } }

// NewManager creates a manager and restores any credential already in store,
// re-arming the proactive refresh for it.
func NewManager(store credentials.Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		refresher:      refresher,
		clock:          SystemClock,
		events:         events.Discard,
		logger:         zerolog.Nop(),
		buffer:         DefaultRefreshBuffer,
		refreshTimeout: DefaultRefreshTimeout,
	}
	if a, ok := refresher.(Authenticator); ok {
		m.authenticator = a
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	return m
}

func (m *Manager) restore() {
	c := credentials.Load(m.store)
	if c == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = c
	if c.ExpiresAt == 0 {
		m.logger.Info().Msg("Restored credential with unknown expiry")
		return
	}
	remaining := time.UnixMilli(c.ExpiresAt).Sub(m.clock.Now())
	m.scheduleLocked(remaining)
	m.logger.Info().
		Int64("minutes_until_expiry", int64(remaining/time.Minute)).
		Msg("Restored persisted credential")
}

// SetCredential stores a new credential, computing its expiry from expiresIn,
// and re-arms the proactive refresh. It reports whether the credential was
// persisted; when false it is still used for the lifetime of the process.
func (m *Manager) SetCredential(accessToken, refreshToken string, expiresIn time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(accessToken, refreshToken, expiresIn)
}

func (m *Manager) setLocked(accessToken, refreshToken string, expiresIn time.Duration) bool {
	c := credentials.Credential{AccessToken: accessToken, RefreshToken: refreshToken}
	if expiresIn > 0 {
		c.ExpiresAt = m.clock.Now().Add(expiresIn).UnixMilli()
	}

	persisted := credentials.Save(m.store, c)
	if !persisted {
		m.logger.Warn().Msg("⚠️  Credential store unavailable, credential will not survive a restart")
	}

	m.cred = &c
	m.generation++
	if expiresIn > 0 {
		m.scheduleLocked(expiresIn)
	} else {
		m.cancelTaskLocked()
	}
	return persisted
}

// ClearCredential removes the credential from memory and the store and cancels
// the proactive refresh. Idempotent.
func (m *Manager) ClearCredential() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	credentials.Clear(m.store)
	m.cancelTaskLocked()
	m.cred = nil
	m.refreshing = false
	m.generation++
}

// GetValidToken returns an access token that is safe to send. A token inside
// the refresh buffer, or one whose expiry is unknown, is renewed first.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	cred := m.cred
	refreshing := m.refreshing
	gen := m.generation
	now := m.clock.Now()
	m.mu.Unlock()

	if refreshing {
		return m.renew(ctx, gen)
	}
	if cred == nil {
		return "", ErrUnauthenticated
	}

	switch stateOf(cred, now, m.buffer) {
	case StateExpired:
		return "", ErrTokenExpired
	case StateExpiringSoon:
		m.logger.Info().
			Int64("seconds_until_expiry", secondsUntil(cred, now)).
			Msg("🔄 Access token expiring soon, refreshing...")
		return m.renew(ctx, gen)
	default:
		return cred.AccessToken, nil
	}
}

// RefreshAccessToken renews the access token. Concurrent callers share one
// call to the refresh endpoint and observe the same outcome. Cancelling ctx
// only stops this caller from waiting.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	return m.await(ctx, func(ctx context.Context) (string, error) {
		return m.refresh(ctx, nil)
	})
}

// renew is RefreshAccessToken for a caller that decided to refresh after
// observing generation seen. If the credential has since been replaced by a
// valid one, that token is returned without calling the endpoint again.
func (m *Manager) renew(ctx context.Context, seen uint64) (string, error) {
	return m.await(ctx, func(ctx context.Context) (string, error) {
		return m.refresh(ctx, &seen)
	})
}

func (m *Manager) await(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, seen *uint64) (string, error) {
	m.mu.Lock()
	if m.cred == nil {
		m.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if seen != nil && *seen != m.generation && stateOf(m.cred, m.clock.Now(), m.buffer) == StateValid {
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.refreshing = true
	gen := m.generation
	refreshToken := m.cred.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		m.logger.Warn().Msg("❌ No refresh token held, ending session")
		m.fail(gen, ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	pair, err := m.refresher.Refresh(ctx, refreshToken)
	if err == nil && pair.AccessToken == "" {
		err = errors.New("refresh response missing access_token")
	}
	if err != nil {
		refreshErr := &RefreshError{Err: err}
		m.logger.Error().Err(err).Msg("❌ Failed to refresh access token")
		m.fail(gen, refreshErr)
		return "", refreshErr
	}

	nextRefresh := pair.RefreshToken
	if nextRefresh == "" {
		nextRefresh = refreshToken
	}

	m.mu.Lock()
	if m.generation != gen {
		// Replaced or cleared while the call was in flight; the newer state wins.
		m.refreshing = false
		cred := m.cred
		m.mu.Unlock()
		if cred == nil {
			return "", ErrUnauthenticated
		}
		return cred.AccessToken, nil
	}
	m.setLocked(pair.AccessToken, nextRefresh, pair.ExpiresIn)
	m.refreshing = false
	m.mu.Unlock()

	m.logger.Info().
		Int64("expires_in_seconds", int64(pair.ExpiresIn/time.Second)).
		Msg("✅ Access token refreshed successfully")
	m.events.Publish(events.CredentialRefreshed{AccessToken: pair.AccessToken})
	return pair.AccessToken, nil
}

// fail tears the session down after a refresh could not produce a token,
// unless the credential was replaced while the refresh was running.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if m.generation != gen {
		m.refreshing = false
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.mu.Unlock()
	m.events.Publish(events.CredentialRefreshFailed{Err: err})
}

// scheduleLocked arms a single proactive refresh at expiresIn minus the buffer.
func (m *Manager) scheduleLocked(expiresIn time.Duration) {
	m.cancelTaskLocked()
	delay := expiresIn - m.buffer
	if delay < 0 {
		delay = 0
	}
	gen := m.generation
	m.task = m.clock.AfterFunc(delay, func() { m.onProactiveRefresh(gen) })
	m.logger.Debug().Dur("delay", delay).Msg("Scheduled proactive refresh")
}

func (m *Manager) cancelTaskLocked() {
	if m.task != nil {
		m.task.Stop()
		m.task = nil
	}
}

func (m *Manager) onProactiveRefresh(gen uint64) {
	m.mu.Lock()
	stale := gen != m.generation || m.cred == nil
	m.mu.Unlock()
	if stale {
		return
	}

	m.logger.Info().Msg("🔄 Proactive refresh: token expiring soon, refreshing...")
	// Failures are published by the refresh itself.
	if _, err := m.renew(context.Background(), gen); err != nil {
		m.logger.Error().Err(err).Msg("❌ Proactive refresh failed")
	}
}

// Login authenticates against the login endpoint and stores the result.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	if m.authenticator == nil {
		return ErrNoAuthenticator
	}
	pair, err := m.authenticator.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if pair.AccessToken == "" {
		return errors.New("login response missing access_token")
	}
	m.SetCredential(pair.AccessToken, pair.RefreshToken, pair.ExpiresIn)
	m.logger.Info().Msg("✅ Logged in")
	return nil
}

// Logout ends the session.
func (m *Manager) Logout() {
	m.ClearCredential()
	m.logger.Info().Msg("Logged out")
}

// State reports the current validity of the credential.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshing {
		return StateRefreshing
	}
	return stateOf(m.cred, m.clock.Now(), m.buffer)
}

// Status is a point-in-time view of the session for reporting.
type Status struct {
	State           State
	ExpiresAt       time.Time
	HasRefreshToken bool
	AccessToken     string
}

// Snapshot returns the current status. ExpiresAt is zero when unknown.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: stateOf(m.cred, m.clock.Now(), m.buffer)}
	if m.refreshing {
		st.State = StateRefreshing
	}
	if m.cred != nil {
		st.AccessToken = m.cred.AccessToken
		st.HasRefreshToken = m.cred.RefreshToken != ""
		if m.cred.ExpiresAt > 0 {
			st.ExpiresAt = time.UnixMilli(m.cred.ExpiresAt)
		}
	}
	return st
}

func stateOf(c *credentials.Credential, now time.Time, buffer time.Duration) State {
	if c == nil || c.AccessToken == "" {
		return StateUnauthenticated
	}
	if c.ExpiresAt == 0 {
		return StateExpiringSoon
	}
	expiry := time.UnixMilli(c.ExpiresAt)
	switch {
	case !now.Before(expiry):
		return StateExpired
	case !now.Before(expiry.Add(-buffer)):
		return StateExpiringSoon
	default:
		return StateValid
	}
}

func secondsUntil(c *credentials.Credential, now time.Time) int64 {
	if c.ExpiresAt == 0 {
		return 0
	}
	return int64(time.UnixMilli(c.ExpiresAt).Sub(now) / time.Second)
}

// Close cancels the proactive refresh without touching the stored credential.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTaskLocked()
}
