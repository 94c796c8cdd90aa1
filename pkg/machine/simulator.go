package machine

import (
	"errors"
	"math"
	"time"

	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/profile"
	"github.com/fako1024/shotctl/pkg/scale"
)

const (
	defaultSamplePeriod = 200 * time.Millisecond

	// Time constant of the first-order approach towards the frame setpoints
	responseTime = 0.8

	ambientTemperature = 88.
)

// Simulator plays a profile on the owning loop, emitting samples the way a
// machine would. All methods must be called from the loop the simulator runs on
type Simulator struct {
	profile *profile.Profile

	clock          clock.Clock
	exec           loop.Executor
	logger         scale.Logger
	period         time.Duration
	preheatSamples int

	ticker       *loop.Timer
	running      bool
	preheatLeft  int
	timer        float64
	frame        int
	frameStarted float64

	pressure, flow, temperature float64

	sampleHandler func(Sample)
	endHandler    func()
}

// Option denotes a functional option for the simulator
type Option func(*Simulator)

// WithClock sets the clock driving the sample ticker
func WithClock(c clock.Clock) Option {
	return func(s *Simulator) {
		s.clock = c
	}
}

// WithExecutor sets the executor the sample ticker runs on
func WithExecutor(exec loop.Executor) Option {
	return func(s *Simulator) {
		s.exec = exec
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// WithSamplePeriod sets the interval between two samples
func WithSamplePeriod(d time.Duration) Option {
	return func(s *Simulator) {
		s.period = d
	}
}

// WithPreheatSamples emits n preheat samples (frame -1) before the first frame
func WithPreheatSamples(n int) Option {
	return func(s *Simulator) {
		s.preheatSamples = n
	}
}

// NewSimulator instantiates a new simulator for the given profile
func NewSimulator(p *profile.Profile, options ...Option) *Simulator {
	s := &Simulator{
		profile: p,
		clock:   clock.Real(),
		exec:    loop.Inline{},
		logger:  &scale.NullLogger{},
		period:  defaultSamplePeriod,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// SetSampleHandler defines a handler function that is called for every sample
func (s *Simulator) SetSampleHandler(fn func(Sample)) {
	s.sampleHandler = fn
}

// SetShotEndHandler defines a handler function that is called once the shot ends
// (last frame done or stopped)
func (s *Simulator) SetShotEndHandler(fn func()) {
	s.endHandler = fn
}

// IsRunning returns if a shot is running
func (s *Simulator) IsRunning() bool {
	return s.running
}

// Frame returns the active frame (negative while preheating)
func (s *Simulator) Frame() int {
	return s.frame
}

// Start starts a new shot
func (s *Simulator) Start() error {
	if s.running {
		return errors.New("shot already running")
	}
	if s.profile == nil || len(s.profile.Frames) == 0 {
		return errors.New("cannot simulate shot without profile frames")
	}

	s.running = true
	s.timer, s.frameStarted = 0, 0
	s.pressure, s.flow, s.temperature = 0, 0, ambientTemperature
	s.preheatLeft = s.preheatSamples
	s.frame = 0
	if s.preheatLeft > 0 {
		s.frame = -1
	}

	s.logger.Infof("simulator: starting shot with profile `%s`", s.profile.Title)
	s.ticker = loop.Every(s.clock, s.exec, s.period, s.tick)

	return nil
}

// StopShot ends the running shot
func (s *Simulator) StopShot() error {
	if !s.running {
		return ErrNotRunning
	}

	s.logger.Infof("simulator: stopping shot at %.1fs", s.timer)
	s.finish()

	return nil
}

// SkipToNextFrame advances to the next frame, ending the shot after the last one
func (s *Simulator) SkipToNextFrame() error {
	if !s.running {
		return ErrNotRunning
	}
	if s.frame < 0 {
		return errors.New("cannot skip frame while preheating")
	}

	s.logger.Infof("simulator: skipping frame %d at %.1fs", s.frame, s.timer)
	s.nextFrame()

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (s *Simulator) tick() {
	if !s.running {
		return
	}

	if s.frame < 0 {
		s.preheatLeft--
		s.emit(s.profile.Frames[0], -1)
		if s.preheatLeft <= 0 {
			s.frame = 0
		}
		return
	}

	dt := s.period.Seconds()
	s.timer += dt

	frame := s.profile.Frames[s.frame]
	alpha := 1 - math.Exp(-dt/responseTime)
	s.pressure += (frame.Pressure - s.pressure) * alpha
	s.flow += (frame.Flow - s.flow) * alpha
	s.temperature += (frame.Temperature - s.temperature) * alpha
	s.emit(frame, s.frame)

	if s.timer-s.frameStarted >= frame.Seconds {
		s.nextFrame()
	}
}

func (s *Simulator) nextFrame() {
	if s.frame+1 >= len(s.profile.Frames) {
		s.logger.Infof("simulator: profile finished at %.1fs", s.timer)
		s.finish()
		return
	}

	s.frame++
	s.frameStarted = s.timer
}

func (s *Simulator) finish() {
	s.ticker.Stop()
	s.running = false

	if s.endHandler != nil {
		s.endHandler()
	}
}

func (s *Simulator) emit(frame profile.Frame, frameNumber int) {
	if s.sampleHandler == nil {
		return
	}

	s.sampleHandler(Sample{
		Timer:           s.timer,
		Pressure:        s.pressure,
		Flow:            s.flow,
		Temperature:     s.temperature,
		PressureGoal:    frame.Pressure,
		FlowGoal:        frame.Flow,
		TemperatureGoal: frame.Temperature,
		FrameNumber:     frameNumber,
		IsFlowMode:      frame.IsFlowMode(),
	})
}
