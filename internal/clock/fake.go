package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called. It is
// safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
	done     bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTimer registers a timer. A non-positive duration fires immediately.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTimer{deadline: c.current.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		ft.ch <- c.current
		ft.done = true
	} else {
		c.timers = append(c.timers, ft)
		c.changed.Broadcast()
	}

	return &Timer{
		C: ft.ch,
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if ft.done {
				return false
			}
			ft.done = true
			c.changed.Broadcast()
			return true
		},
	}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has passed, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	var fire, remaining []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.deadline.After(c.current):
			fire = append(fire, t)
		default:
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining

	sort.Slice(fire, func(i, j int) bool { return fire[i].deadline.Before(fire[j].deadline) })
	for _, t := range fire {
		t.done = true
		select {
		case t.ch <- c.current:
		default:
		}
	}
	c.changed.Broadcast()
}

// WaitForTimers blocks until at least n timers are pending. It closes the
// race between a goroutine arming a timer and the test advancing the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}
