// Package clock abstracts the wall clock so workflow timestamps
// (completed_at, responded_at, message times) are deterministic in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by time.Now, in UTC.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// FakeClock is a manually advanced Clock. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial.UTC()}
}

// Now returns the fake time, then moves it forward by the auto-step if
// one is set.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// AutoStep makes every Now call advance the clock by d afterwards, so
// successive readings are strictly increasing.
func (c *FakeClock) AutoStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}
