// Package loop provides the single event loop that owns all scale and shot
// controller state. Callbacks originating from other goroutines (transport
// notifications, timer expiry, API requests) are posted onto the loop before
// they touch any state.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do if the loop is no longer running
var ErrStopped = errors.New("event loop stopped")

// Executor denotes anything that can run a function on the owning loop
type Executor interface {

	// Post schedules fn to run on the loop. It never blocks
	Post(fn func())
}

// Inline denotes an executor that runs functions immediately in the calling
// goroutine (used in tests and for single-goroutine setups)
type Inline struct{}

// Post runs fn immediately
func (Inline) Post(fn func()) {
	fn()
}

// Loop denotes a FIFO event loop executing posted functions one at a time
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// New instantiates a new (not yet running) loop
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post schedules fn to run on the loop. The queue is unbounded, so Post is safe
// to call from within the loop itself
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to complete. It must not be called
// from within the loop
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions until the context is cancelled. Functions still
// queued at that point are discarded
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()

			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]

	return fn
}
