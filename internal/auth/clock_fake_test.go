package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock only moves when Advance is called; due tasks run on the calling goroutine.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*fakeTask
}

type fakeTask struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTask{clock: c, at: c.now.Add(d), f: f}
	c.tasks = append(c.tasks, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTask
	for _, t := range c.tasks {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Jump moves time without running due tasks, as when a suspended process
// misses its timers.
func (c *fakeClock) Jump(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Pending counts tasks that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeRefresher returns queued responses and counts calls. If gate is set,
// each call blocks until it is closed.
type fakeRefresher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	seen    []string
	pairs   []*TokenPair
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, refreshToken)
	f.mu.Unlock()

	if f.started != nil && n == 1 {
		close(f.started)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pairs) == 0 {
		return nil, errors.New("no response queued")
	}
	p := f.pairs[0]
	f.pairs = f.pairs[1:]
	return p, nil
}

func (f *fakeRefresher) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if username != "alice" || password != "secret" {
		return nil, &EndpointError{Status: 401, Code: "invalid_grant"}
	}
	return &TokenPair{AccessToken: "L1", RefreshToken: "LR1", ExpiresIn: 600 * time.Second}, nil
}
