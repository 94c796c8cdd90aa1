package blescale

import (
	"time"

	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/scale"
)

// Option denotes a functional option for a Scale
type Option func(*Scale)

// WithExecutor sets the loop all transport events and timers are marshaled onto
func WithExecutor(exec loop.Executor) Option {
	return func(s *Scale) {
		s.exec = exec
	}
}

// WithClock sets the clock used for all timer-bounded waits
func WithClock(c clock.Clock) Option {
	return func(s *Scale) {
		s.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) Option {
	return func(s *Scale) {
		s.logger = logger
	}
}

// WithSubscribeDelay sets the delay between characteristic discovery and the
// notification subscription
func WithSubscribeDelay(d time.Duration) Option {
	return func(s *Scale) {
		s.subscribeDelay = d
	}
}

// WithWatchdogInterval sets the time to wait for data after each subscription attempt
func WithWatchdogInterval(d time.Duration) Option {
	return func(s *Scale) {
		s.watchdogInterval = d
	}
}

// WithMaxNotificationRetries sets the number of subscription retries before
// giving up on a silent device
func WithMaxNotificationRetries(n int) Option {
	return func(s *Scale) {
		s.maxNotificationRetries = n
	}
}

// WithDiscoveryTimeout sets the time limit for each discovery step
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(s *Scale) {
		s.discoveryTimeout = d
	}
}
