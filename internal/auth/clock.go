package auth

import "time"

// Task is a scheduled callback that can be cancelled.
type Task interface {
	// Stop cancels the task and reports whether it was still pending.
	Stop() bool
}

// Clock supplies time and one-shot scheduling to a Manager.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Task
}

// SystemClock is the wall clock backed by runtime timers.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}
