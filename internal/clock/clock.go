// Package clock abstracts the timers the sync controller waits on so tests
// can drive poll and cooldown timing deterministically.
package clock

import "time"

// Clock is the subset of the time package the controller needs.
type Clock interface {
	Now() time.Time
	// NewTimer returns a timer that delivers on C once d has elapsed.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single-shot timer. Read the event from C.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped an active timer.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}
