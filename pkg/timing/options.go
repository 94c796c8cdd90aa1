package timing

import (
	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/scale"
)

// Capture denotes a log sink scoped to a single shot
type Capture interface {
	Start()
	Stop()
}

// Option denotes a functional option for the controller
type Option func(*Controller)

// WithClock sets the clock used for timeouts and the display ticker
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// WithExecutor sets the executor (owning loop) timer expiries run on
func WithExecutor(exec loop.Executor) Option {
	return func(ctrl *Controller) {
		ctrl.exec = exec
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) Option {
	return func(ctrl *Controller) {
		ctrl.logger = logger
	}
}

// WithCapture sets a log sink that is started / stopped with each shot
func WithCapture(capture Capture) Option {
	return func(ctrl *Controller) {
		ctrl.capture = capture
	}
}

// WithSettings overrides the default settings
func WithSettings(settings Settings) Option {
	return func(ctrl *Controller) {
		ctrl.settings = settings
	}
}
