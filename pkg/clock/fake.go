package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for testing. Time advances only when
// Advance is called, and AfterFunc callbacks are invoked synchronously during
// Advance in deadline order.
//
// Do not call Advance from within an AfterFunc callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock initialized to the given time
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{
		current: initial,
	}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to be called once the clock has been advanced by d.
// If d <= 0, f is called synchronously before AfterFunc returns
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, waiter)

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.stopped || waiter.fired {
				return false
			}
			waiter.stopped = true
			return true
		},
	}
}

// Advance moves the clock forward by d and fires all timers whose deadlines
// fall within the new time. Callbacks scheduled by a firing callback fire in
// the same Advance if their deadline is also reached
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		waiter := c.nextExpired(target)
		if waiter == nil {
			break
		}
		waiter.callback()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// PendingCount returns the number of active (non-stopped, non-fired) timers
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}

// nextExpired pops the earliest waiter due at or before target and moves the
// clock to its deadline, so callbacks observe their own fire time
func (c *FakeClock) nextExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining

	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}

	waiter := c.waiters[0]
	waiter.fired = true
	c.waiters = c.waiters[1:]
	if waiter.deadline.After(c.current) {
		c.current = waiter.deadline
	}

	return waiter
}
