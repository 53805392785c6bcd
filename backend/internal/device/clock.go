package device

import "time"

// Timer is a handle to a pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false if the callback already ran or was stopped.
	Stop() bool
}

// Clock schedules the session timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
