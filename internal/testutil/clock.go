// Package testutil provides deterministic collaborators for tests.
package testutil

import (
	"sync"
	"time"
)

// Clock yields deterministic, strictly increasing wall-clock timestamps.
//
// Each call to Now returns the current instant and advances the clock by a
// fixed step, so event timestamps in tests are stable and ordered without
// touching the real clock.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewClock creates a clock starting at start, advancing by step per call.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{current: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.current
	c.current = c.current.Add(c.step)
	return t
}

// Set jumps the clock to a specific instant. Used to cross UTC date
// boundaries mid-test.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}
