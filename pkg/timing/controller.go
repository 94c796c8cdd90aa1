// Package timing provides the shot timing controller, fusing the machine's
// timer-tagged telemetry and the weight device's readings into one timeline.
// It owns the tare state machine and raises the stop-at-weight and per-frame
// weight exit signals.
//
// The controller performs no locking: all methods (and the handlers of the
// devices feeding it) must be called from the owning loop.
package timing

import (
	"math"
	"time"

	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/machine"
	"github.com/fako1024/shotctl/pkg/profile"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/google/uuid"
)

// Maximum wall time the display time is extrapolated past the last machine sample
const maxDisplayExtrapolation = time.Second

// Controller denotes the shot timing controller
type Controller struct {
	clock    clock.Clock
	exec     loop.Executor
	logger   scale.Logger
	capture  Capture
	settings Settings

	device  scale.Device
	profile *profile.Profile

	shotID    string
	shotState ShotState

	tareState    TareState
	tareTimedOut bool
	tareTimer    *loop.Timer

	displayTicker *loop.Timer
	displayTime   float64
	lastAdvance   time.Time

	elapsed           float64
	extractionStarted bool
	timerBase         float64
	lastMachineTimer  float64
	hasMachineTimer   bool

	weight       float64
	flowRate     float64
	targetWeight float64

	currentFrame      int
	frameExitFired    int
	stopAtWeightFired bool

	scaleStatus   scale.ConnectionStatus
	scaleDegraded bool

	sampleHandler       func(Sample)
	weightSampleHandler func(WeightSample)
	stopAtWeightHandler func()
	frameWeightHandler  func(frame int)
	changeHandler       func(Change)
}

// New instantiates a new controller, executing functional options, if any
func New(options ...Option) *Controller {
	c := &Controller{
		clock:          clock.Real(),
		exec:           loop.Inline{},
		logger:         &scale.NullLogger{},
		settings:       DefaultSettings(),
		currentFrame:   -1,
		frameExitFired: -1,
	}

	for _, option := range options {
		option(c)
	}
	c.targetWeight = c.settings.TargetWeight

	return c
}

// SetScale sets the weight device (externally owned)
func (c *Controller) SetScale(device scale.Device) {
	c.device = device
}

// SetProfile sets the active profile (read only, externally owned)
func (c *Controller) SetProfile(p *profile.Profile) {
	c.profile = p
}

// SetTargetWeight sets the stop-at-weight target (0 = disabled)
func (c *Controller) SetTargetWeight(weight float64) {
	c.targetWeight = math.Max(0, weight)
	c.logger.Debugf("target weight set to %.1fg", c.targetWeight)
}

// SetSampleHandler defines a handler function that is called for every unified sample
func (c *Controller) SetSampleHandler(fn func(Sample)) {
	c.sampleHandler = fn
}

// SetWeightSampleHandler defines a handler function that is called for every
// weight sample received during a shot
func (c *Controller) SetWeightSampleHandler(fn func(WeightSample)) {
	c.weightSampleHandler = fn
}

// SetStopAtWeightHandler defines a handler function that is called (once per shot)
// when the target weight is reached
func (c *Controller) SetStopAtWeightHandler(fn func()) {
	c.stopAtWeightHandler = fn
}

// SetPerFrameWeightHandler defines a handler function that is called (once per
// frame) when the exit weight of the current frame is reached
func (c *Controller) SetPerFrameWeightHandler(fn func(frame int)) {
	c.frameWeightHandler = fn
}

// SetChangeHandler defines a handler function that is called upon every state change
func (c *Controller) SetChangeHandler(fn func(Change)) {
	c.changeHandler = fn
}

// ShotID returns the ID of the current / last shot
func (c *Controller) ShotID() string {
	return c.shotID
}

// ShotState returns the shot lifecycle state
func (c *Controller) ShotState() ShotState {
	return c.shotState
}

// ShotTime returns the elapsed shot time (in seconds) as reported by the machine
func (c *Controller) ShotTime() float64 {
	return c.elapsed
}

// DisplayTime returns the smoothed shot time for display purposes only
func (c *Controller) DisplayTime() float64 {
	return c.displayTime
}

// Weight returns the last weight reading
func (c *Controller) Weight() float64 {
	return c.weight
}

// FlowRate returns the last flow rate reading
func (c *Controller) FlowRate() float64 {
	return c.flowRate
}

// TargetWeight returns the stop-at-weight target
func (c *Controller) TargetWeight() float64 {
	return c.targetWeight
}

// CurrentFrame returns the current profile frame (-1 before extraction)
func (c *Controller) CurrentFrame() int {
	return c.currentFrame
}

// TareState returns the state of the tare state machine
func (c *Controller) TareState() TareState {
	return c.tareState
}

// IsTareComplete returns if the tare is complete
func (c *Controller) IsTareComplete() bool {
	return c.tareState == TareComplete
}

// TareTimedOut returns if the last tare completed by timeout instead of confirmation
func (c *Controller) TareTimedOut() bool {
	return c.tareTimedOut
}

// Tare issues a tare to the weight device. The tare completes once a reading
// close to zero is received or the tare timeout expires
func (c *Controller) Tare() {
	c.tareTimer.Stop()
	c.tareTimedOut = false

	if c.device == nil {
		c.logger.Debug("no weight device, tare complete")
		c.setTareState(TareComplete)
		return
	}

	c.setTareState(TarePending)
	c.tareTimer = loop.AfterFunc(c.clock, c.exec, c.settings.TareTimeout, c.onTareTimeout)

	if err := c.device.Tare(); err != nil {
		c.logger.Warnf("failed to tare %s: %s", c.device.Name(), err)
	}
}

// StartShot starts a new shot
func (c *Controller) StartShot() {
	c.stopTimers()

	if c.capture != nil {
		c.capture.Start()
	}

	c.shotID = uuid.NewString()
	c.elapsed, c.displayTime = 0, 0
	c.extractionStarted = false
	c.timerBase, c.lastMachineTimer, c.hasMachineTimer = 0, 0, false
	c.currentFrame, c.frameExitFired = -1, -1
	c.stopAtWeightFired = false
	c.lastAdvance = c.clock.Now()

	c.setShotState(ShotActive)
	c.notify(ChangeShotTime)
	c.notify(ChangeDisplayTime)
	c.logger.Infof("shot %s started (target weight %.1fg)", c.shotID, c.targetWeight)

	if resetter, ok := c.device.(scale.Resetter); ok {
		resetter.Reset()
	}

	c.displayTicker = loop.Every(c.clock, c.exec, c.settings.DisplayInterval, c.onDisplayTick)

	if c.settings.Retare {
		c.Tare()
	}
}

// EndShot ends the running shot, freezing time and readings
func (c *Controller) EndShot() {
	if c.shotState != ShotActive {
		return
	}

	c.stopTimers()
	c.displayTime = c.elapsed
	c.setShotState(ShotEnded)
	c.notify(ChangeDisplayTime)
	c.logger.Infof("shot %s ended after %.2fs at %.1fg", c.shotID, c.elapsed, c.weight)

	if c.capture != nil {
		c.capture.Stop()
	}
}

// OnShotSample handles a telemetry sample from the machine. Extraction starts
// with the first sample outside preheat (frame >= 0), even if frame 0 was skipped
func (c *Controller) OnShotSample(s machine.Sample) {
	if c.shotState != ShotActive {
		return
	}

	// Preheat samples carry no shot time
	if s.IsPreheating() {
		c.logger.Debugf("preheating: %.1f°C (goal %.1f°C)", s.Temperature, s.TemperatureGoal)
		return
	}

	if !c.extractionStarted {
		c.extractionStarted = true
		c.timerBase = s.Timer
		c.lastAdvance = c.clock.Now()
		c.logger.Infof("extraction started (machine timer %.2fs, frame %d)", s.Timer, s.FrameNumber)
	}

	if t := s.Timer - c.timerBase; t > c.elapsed {
		c.elapsed = t
		c.lastAdvance = c.clock.Now()
		c.notify(ChangeShotTime)
	} else if t < c.elapsed {
		c.logger.Debugf("ignoring machine timer going backwards (%.2fs < %.2fs)", t, c.elapsed)
	}

	frameChanged := false
	if s.FrameNumber > c.currentFrame {
		c.logger.Debugf("frame %d -> %d at %.2fs", c.currentFrame, s.FrameNumber, c.elapsed)
		c.currentFrame = s.FrameNumber
		frameChanged = true
	}

	if c.sampleHandler != nil {
		c.sampleHandler(Sample{
			Time:            c.elapsed,
			Pressure:        s.Pressure,
			Flow:            s.Flow,
			Temperature:     s.Temperature,
			PressureGoal:    s.PressureGoal,
			FlowGoal:        s.FlowGoal,
			TemperatureGoal: s.TemperatureGoal,
			FrameNumber:     c.currentFrame,
			IsFlowMode:      s.IsFlowMode,
		})
	}

	// Feed virtual devices with the machine's own timer delta
	if integrator, ok := c.device.(scale.FlowIntegrator); ok && c.hasMachineTimer {
		integrator.AddFlowSample(s.Flow, s.Timer-c.lastMachineTimer)
	}
	c.lastMachineTimer, c.hasMachineTimer = s.Timer, true

	if frameChanged {
		c.checkPerFrameWeight(c.currentFrame)
	}
}

// OnWeightSample handles a reading from the weight device. The reading is bound
// to the current shot time. Once a shot has ended its readings stay frozen, live
// values remain available from the device itself
func (c *Controller) OnWeightSample(weight, flowRate float64) {
	if c.tareState == TarePending && math.Abs(weight) <= c.settings.TareThreshold {
		c.tareTimer.Stop()
		c.logger.Debugf("tare confirmed (%.2fg)", weight)
		c.setTareState(TareComplete)
	}

	if c.shotState == ShotEnded {
		return
	}

	c.weight, c.flowRate = weight, flowRate
	c.notify(ChangeWeight)

	if c.shotState != ShotActive {
		return
	}

	if c.weightSampleHandler != nil {
		c.weightSampleHandler(WeightSample{
			Time:     c.elapsed,
			Weight:   weight,
			FlowRate: flowRate,
		})
	}

	c.checkStopAtWeight()
	c.checkPerFrameWeight(c.currentFrame)
}

// OnScaleStatus records a connection status change of the weight device. A
// degraded device never aborts a running shot
func (c *Controller) OnScaleStatus(status scale.ConnectionStatus) {
	c.scaleStatus = status

	degraded := status.Error != nil || status.State != scale.StateConnected
	if status.Error != nil {
		if c.shotState == ShotActive {
			c.logger.Warnf("weight device: %s (state %s), continuing shot on machine data", status.Error, status.State)
		} else {
			c.logger.Warnf("weight device: %s (state %s)", status.Error, status.State)
		}
	}

	if degraded != c.scaleDegraded {
		c.scaleDegraded = degraded
		c.notify(ChangeScaleHealth)
	}
}

// Reset returns the controller to its initial state
func (c *Controller) Reset() {
	c.stopTimers()
	if c.capture != nil {
		c.capture.Stop()
	}

	c.tareTimedOut = false
	c.elapsed, c.displayTime = 0, 0
	c.extractionStarted = false
	c.currentFrame, c.frameExitFired = -1, -1
	c.stopAtWeightFired = false

	c.setTareState(TareIdle)
	c.setShotState(ShotIdle)
}

// Close cancels all timers
func (c *Controller) Close() {
	c.stopTimers()
}

// Snapshot returns a copy of the controller state
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		ShotID:            c.shotID,
		ShotState:         c.shotState.String(),
		TareState:         c.tareState.String(),
		TareTimedOut:      c.tareTimedOut,
		ShotTime:          c.elapsed,
		DisplayTime:       c.displayTime,
		Weight:            c.weight,
		FlowRate:          c.flowRate,
		TargetWeight:      c.targetWeight,
		Frame:             c.currentFrame,
		ExtractionStarted: c.extractionStarted,
		StopAtWeightFired: c.stopAtWeightFired,
		FrameExitFired:    c.frameExitFired,
		ScaleState:        c.scaleStatus.State,
		ScaleStatus:       c.scaleStatus.State.String(),
		ScaleDegraded:     c.scaleDegraded,
	}
	if c.scaleStatus.Error != nil {
		snap.ScaleError = c.scaleStatus.Error.Error()
	}

	return snap
}

////////////////////////////////////////////////////////////////////////////////

func (c *Controller) checkStopAtWeight() {
	if c.shotState != ShotActive || c.tareState != TareComplete {
		return
	}
	if c.targetWeight <= 0 || c.stopAtWeightFired {
		return
	}

	projected := c.weight + c.flowRate*c.settings.StopLag.Seconds()
	if projected < c.targetWeight {
		return
	}

	c.stopAtWeightFired = true
	c.logger.Infof("target weight %.1fg reached at %.2fs (weight %.1fg, projected %.1fg)",
		c.targetWeight, c.elapsed, c.weight, projected)

	if c.stopAtWeightHandler != nil {
		c.stopAtWeightHandler()
	}
}

func (c *Controller) checkPerFrameWeight(frame int) {
	if c.shotState != ShotActive || !c.extractionStarted || c.tareState != TareComplete {
		return
	}
	if frame != c.currentFrame || frame == c.frameExitFired {
		return
	}

	f, ok := c.profile.Frame(frame)
	if !ok || f.ExitWeight <= 0 || c.weight < f.ExitWeight {
		return
	}

	c.frameExitFired = frame
	c.logger.Infof("frame %d exit weight %.1fg reached at %.2fs", frame, f.ExitWeight, c.elapsed)

	if c.frameWeightHandler != nil {
		c.frameWeightHandler(frame)
	}
}

func (c *Controller) onTareTimeout() {
	if c.tareState != TarePending {
		return
	}

	c.tareTimedOut = true
	c.logger.Warnf("tare not confirmed within %v (last reading %.2fg), assuming success", c.settings.TareTimeout, c.weight)
	c.setTareState(TareComplete)

	// The weight may already exceed the target
	c.checkStopAtWeight()
	c.checkPerFrameWeight(c.currentFrame)
}

func (c *Controller) onDisplayTick() {
	if c.shotState != ShotActive || !c.extractionStarted {
		return
	}

	extrapolated := c.clock.Now().Sub(c.lastAdvance)
	if extrapolated > maxDisplayExtrapolation {
		extrapolated = maxDisplayExtrapolation
	}

	if t := c.elapsed + extrapolated.Seconds(); t > c.displayTime {
		c.displayTime = t
		c.notify(ChangeDisplayTime)
	}
}

func (c *Controller) stopTimers() {
	c.tareTimer.Stop()
	c.displayTicker.Stop()
}

func (c *Controller) setTareState(state TareState) {
	if c.tareState == state {
		return
	}
	c.logger.Debugf("tare state %s -> %s", c.tareState, state)
	c.tareState = state
	c.notify(ChangeTareState)
}

func (c *Controller) setShotState(state ShotState) {
	if c.shotState == state {
		return
	}
	c.shotState = state
	c.notify(ChangeShotState)
}

func (c *Controller) notify(change Change) {
	if c.changeHandler != nil {
		c.changeHandler(change)
	}
}
