package petnotify

import "time"

// Clock schedules callbacks. Tests substitute a manual implementation so
// reconnect delays and auto-dismiss timers can be observed deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return realClock{} }
