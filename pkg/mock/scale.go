package mock

import (
	"time"

	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/fatih/stopwatch"
)

const defaultDeviceName = "Mock Scale"

// Scale denotes an in-memory weight device. Data is injected via Push
type Scale struct {
	connectionStatus scale.ConnectionStatus
	weight           float64
	flowRate         float64
	tareCount        int
	ref              scale.DeviceRef

	timer *stopwatch.Stopwatch

	deviceName string

	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus

	dataHandler func(data scale.DataPoint)
	dataChan    chan scale.DataPoint

	// TareErr is returned by Tare, if set
	TareErr error

	// ZeroOnTare causes Tare to push a zero reading, like a responsive scale would
	ZeroOnTare bool
}

// NewScale instantiates a new mock scale
func NewScale() *Scale {
	return &Scale{
		deviceName: defaultDeviceName,
	}
}

// Name returns the name of the device
func (m *Scale) Name() string {
	return m.deviceName
}

// Connect marks the device as connected
func (m *Scale) Connect(ref scale.DeviceRef) error {
	m.ref = ref
	m.SetStatus(scale.StateConnected, nil)
	return nil
}

// Disconnect marks the device as disconnected
func (m *Scale) Disconnect() error {
	m.SetStatus(scale.StateDisconnected, nil)
	return nil
}

// ConnectionStatus returns the current status of the device
func (m *Scale) ConnectionStatus() scale.ConnectionStatus {
	return m.connectionStatus
}

// IsConnected returns if the device is connected
func (m *Scale) IsConnected() bool {
	return m.connectionStatus.State == scale.StateConnected
}

// Weight returns the last pushed weight
func (m *Scale) Weight() float64 {
	return m.weight
}

// FlowRate returns the last pushed flow rate
func (m *Scale) FlowRate() float64 {
	return m.flowRate
}

// TareCount returns the number of Tare calls
func (m *Scale) TareCount() int {
	return m.tareCount
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (m *Scale) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	m.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes
func (m *Scale) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	m.stateChangeChan = ch
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (m *Scale) SetDataHandler(fn func(data scale.DataPoint)) {
	m.dataHandler = fn
}

// SetDataChannel defines a channel that receives data points
func (m *Scale) SetDataChannel(ch chan scale.DataPoint) {
	m.dataChan = ch
}

// Tare tares the scale
func (m *Scale) Tare() error {
	m.tareCount++
	if m.TareErr != nil {
		return m.TareErr
	}
	if m.ZeroOnTare {
		m.Push(0, 0)
	}

	return nil
}

// Push injects a reading as if it was received from a device
func (m *Scale) Push(weight, flowRate float64) {
	m.weight = weight
	m.flowRate = flowRate

	dataPoint := scale.DataPoint{
		TimeStamp: time.Now(),
		Unit:      scale.UnitGrams,
		Weight:    weight,
		FlowRate:  flowRate,
	}
	if m.dataHandler != nil {
		m.dataHandler(dataPoint)
	}
	if m.dataChan != nil {
		select {
		case m.dataChan <- dataPoint:
		default:
		}
	}
}

// SetStatus injects a connection status change
func (m *Scale) SetStatus(state scale.ConnectionState, err error) {
	m.connectionStatus = scale.ConnectionStatus{
		State: state,
		Error: err,
	}

	if m.stateChangeHandler != nil {
		m.stateChangeHandler(m.connectionStatus)
	}
	if m.stateChangeChan != nil {
		select {
		case m.stateChangeChan <- m.connectionStatus:
		default:
		}
	}
}

// StartTimer starts the timer / stopwatch
func (m *Scale) StartTimer() error {
	if m.timer == nil {
		m.timer = stopwatch.Start(0)
	} else {
		m.timer.Start(0)
	}

	return nil
}

// StopTimer stops the timer / stopwatch
func (m *Scale) StopTimer() error {
	if m.timer != nil {
		m.timer.Stop()
	}

	return nil
}

// ResetTimer resets the timer / stopwatch
func (m *Scale) ResetTimer() error {
	if m.timer != nil {
		m.timer.Reset()
	}

	return nil
}

// ElapsedTime returns the current timer value
func (m *Scale) ElapsedTime() time.Duration {
	if m.timer != nil {
		return m.timer.ElapsedTime()
	}

	return 0
}
