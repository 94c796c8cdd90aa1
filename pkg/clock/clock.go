// Package clock abstracts the time operations used by the scale drivers and
// the shot controller, so timer-driven state machines can be tested with a
// deterministic fake clock
package clock

import "time"

// Clock denotes the time source used by all timer-bounded waits
type Clock interface {

	// Now returns the current time
	Now() time.Time

	// AfterFunc waits for duration d, then calls f. The returned Timer can
	// cancel the pending call
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer denotes a scheduled call created by AfterFunc
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns true if the call stops the
// timer, false if the timer has already fired or been stopped
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
