package scale

import "time"

// Device denotes a weight measuring device (physical or virtual)
type Device interface {

	// Name returns a human readable name of the device
	Name() string

	// Connect starts connecting to the referenced device. Completion is reported
	// through the state change handler / channel
	Connect(ref DeviceRef) error

	// Disconnect terminates the connection to the device
	Disconnect() error

	// Tare tares the scale. It is safe to call repeatedly and does not require
	// the device to be streaming data
	Tare() error

	// Weight returns the last known weight in grams
	Weight() float64

	// FlowRate returns the current flow rate estimate in mL/s (g/s)
	FlowRate() float64

	// IsConnected returns if the device is delivering data
	IsConnected() bool

	// ConnectionStatus returns the current connection status of the device
	ConnectionStatus() ConnectionStatus

	// SetStateChangeHandler defines a handler function that is called upon state change
	SetStateChangeHandler(fn func(status ConnectionStatus))

	// SetStateChangeChannel defines a channel that receives state changes
	SetStateChangeChannel(ch chan ConnectionStatus)

	// SetDataHandler defines a handler function that is called upon retrieval of data
	SetDataHandler(fn func(data DataPoint))

	// SetDataChannel defines a channel that receives data points
	SetDataChannel(ch chan DataPoint)
}

// Timer denotes timer / stopwatch functionality
type Timer interface {

	// StartTimer starts the timer / stopwatch
	StartTimer() error

	// StopTimer stops the timer / stopwatch
	StopTimer() error

	// ResetTimer resets the timer / stopwatch
	ResetTimer() error

	// ElapsedTime returns the current timer value
	ElapsedTime() time.Duration
}

// FlowIntegrator denotes a device that derives its weight from flow samples
// provided by the machine
type FlowIntegrator interface {

	// AddFlowSample integrates a flow rate (mL/s) over deltaTime (s)
	AddFlowSample(flowRate, deltaTime float64)
}

// Resetter denotes a device that can be reset for a new shot
type Resetter interface {

	// Reset initializes the device for a new shot
	Reset()
}

// WithTimer denotes a device with timer functionality
type WithTimer interface {
	Device
	Timer
}
