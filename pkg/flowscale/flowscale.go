// Package flowscale provides a virtual scale estimating the beverage weight by
// integrating the machine's flow rate over time (assuming a density of 1 g/mL).
// It serves as a fallback when no physical scale is available.
package flowscale

import (
	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/scale"
)

const (
	defaultDeviceName = "Flow Scale"

	// Deltas at or above this value indicate a stalled or jumped clock
	maxDeltaTime = 1.0
)

// FlowScale denotes a virtual, always connected scale
type FlowScale struct {
	accumulatedWeight float64
	flowRate          float64

	clock  clock.Clock
	logger scale.Logger

	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus

	dataHandler func(data scale.DataPoint)
	dataChan    chan scale.DataPoint
}

// New instantiates a new flow scale, executing functional options, if any
func New(options ...func(*FlowScale)) *FlowScale {
	f := &FlowScale{
		clock:  clock.Real(),
		logger: &scale.NullLogger{},
	}

	for _, option := range options {
		option(f)
	}

	return f
}

// WithClock sets the clock used to time stamp data points
func WithClock(c clock.Clock) func(*FlowScale) {
	return func(f *FlowScale) {
		f.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*FlowScale) {
	return func(f *FlowScale) {
		f.logger = logger
	}
}

// Name returns the name of the device
func (f *FlowScale) Name() string {
	return defaultDeviceName
}

// Connect is a no-op, the flow scale has no physical link
func (f *FlowScale) Connect(_ scale.DeviceRef) error {
	return nil
}

// Disconnect is a no-op, the flow scale has no physical link
func (f *FlowScale) Disconnect() error {
	return nil
}

// IsConnected always returns true
func (f *FlowScale) IsConnected() bool {
	return true
}

// ConnectionStatus always reports a connected device
func (f *FlowScale) ConnectionStatus() scale.ConnectionStatus {
	return scale.ConnectionStatus{State: scale.StateConnected}
}

// Weight returns the accumulated weight estimate
func (f *FlowScale) Weight() float64 {
	return f.accumulatedWeight
}

// FlowRate returns the last integrated flow rate
func (f *FlowScale) FlowRate() float64 {
	return f.flowRate
}

// SetStateChangeHandler defines a handler function that is called upon state
// change. The handler is called once immediately since the device is always connected
func (f *FlowScale) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	f.stateChangeHandler = fn
	if fn != nil {
		fn(f.ConnectionStatus())
	}
}

// SetStateChangeChannel defines a channel that receives state changes
func (f *FlowScale) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	f.stateChangeChan = ch
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (f *FlowScale) SetDataHandler(fn func(data scale.DataPoint)) {
	f.dataHandler = fn
}

// SetDataChannel defines a channel that receives data points
func (f *FlowScale) SetDataChannel(ch chan scale.DataPoint) {
	f.dataChan = ch
}

// Tare zeroes the accumulated weight (user initiated, possibly mid-shot)
func (f *FlowScale) Tare() error {
	f.logger.Debugf("flow scale: tare (resetting accumulated weight from %.2f to 0)", f.accumulatedWeight)
	f.zero()

	return nil
}

// Reset zeroes the accumulated weight in preparation of a new shot
func (f *FlowScale) Reset() {
	f.zero()
}

// AddFlowSample integrates a flow rate (mL/s) over deltaTime (s). Deltas outside
// (0, 1) are rejected
func (f *FlowScale) AddFlowSample(flowRate, deltaTime float64) {
	if deltaTime <= 0 || deltaTime >= maxDeltaTime {
		f.logger.Debugf("flow scale: rejecting flow sample with time delta %.3fs", deltaTime)
		return
	}

	f.accumulatedWeight += flowRate * deltaTime
	f.flowRate = flowRate
	f.emit()
}

////////////////////////////////////////////////////////////////////////////////

func (f *FlowScale) zero() {
	f.accumulatedWeight = 0
	f.flowRate = 0
	f.emit()
}

func (f *FlowScale) emit() {
	dataPoint := scale.DataPoint{
		TimeStamp: f.clock.Now(),
		Unit:      scale.UnitGrams,
		Weight:    f.accumulatedWeight,
		FlowRate:  f.flowRate,
	}

	// Call handler function, if any
	if f.dataHandler != nil {
		f.dataHandler(dataPoint)
	}

	// Put data point on channel, if any
	if f.dataChan != nil {
		select {
		case f.dataChan <- dataPoint:
		default:
		}
	}
}
