package loop

import (
	"time"

	"github.com/fako1024/shotctl/pkg/clock"
)

// Timer denotes a one-shot or periodic timer whose expiry runs on an Executor.
// Stop must be called from the owning loop; once it returns, the callback is
// guaranteed not to run again, even if an expiry was already queued
type Timer struct {
	clock    clock.Clock
	exec     Executor
	interval time.Duration
	fn       func()

	pending *clock.Timer
	stopped bool
}

// AfterFunc runs fn on exec once d has elapsed on c
func AfterFunc(c clock.Clock, exec Executor, d time.Duration, fn func()) *Timer {
	t := &Timer{
		clock: c,
		exec:  exec,
		fn:    fn,
	}
	t.schedule(d)

	return t
}

// Every runs fn on exec every d until stopped. Expiries are rescheduled relative
// to the time the previous one was handled
func Every(c clock.Clock, exec Executor, d time.Duration, fn func()) *Timer {
	t := &Timer{
		clock:    c,
		exec:     exec,
		interval: d,
		fn:       fn,
	}
	t.schedule(d)

	return t
}

// Stop cancels the timer. It is safe to call on a nil or already stopped timer
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	t.pending.Stop()
}

// Active returns whether the timer can still fire
func (t *Timer) Active() bool {
	return t != nil && !t.stopped
}

func (t *Timer) schedule(d time.Duration) {
	t.pending = t.clock.AfterFunc(d, func() {
		t.exec.Post(t.fire)
	})
}

func (t *Timer) fire() {
	if t.stopped {
		return
	}
	if t.interval > 0 {
		t.schedule(t.interval)
	} else {
		t.stopped = true
	}
	t.fn()
}
