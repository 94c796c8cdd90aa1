package scale

import "time"

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown = "--"

	// UnitGrams denotes metric units
	UnitGrams = "g"

	// UnitOz denotes imperial units
	UnitOz = "oz"
)

// ConnectionState denotes a connection state
type ConnectionState int

const (

	// StateDisconnected is active before connecting and after the link was closed or lost
	StateDisconnected ConnectionState = iota

	// StateConnecting is active while the link to the device is being established
	StateConnecting

	// StateDiscoveringServices is active while looking for the data service
	StateDiscoveringServices

	// StateDiscoveringCharacteristics is active while looking for the status / command characteristics
	StateDiscoveringCharacteristics

	// StateSubscribingNotifications is active while the notification descriptor write is outstanding
	StateSubscribingNotifications

	// StateAwaitingFirstData is active after the subscription was acknowledged, until data arrives
	StateAwaitingFirstData

	// StateConnected is active once the device has delivered its first valid payload
	StateConnected

	// StateFailed is active after an unrecoverable link or discovery error
	StateFailed
)

// String returns a string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateDiscoveringCharacteristics:
		return "discovering_characteristics"
	case StateSubscribingNotifications:
		return "subscribing_notifications"
	case StateAwaitingFirstData:
		return "awaiting_first_data"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionStatus denotes the current status of the weight device. Error is set
// for failures and for non-fatal warnings (e.g. ErrNotResponding)
type ConnectionStatus struct {
	Error error
	State ConnectionState
}

// DeviceRef identifies a peripheral by ID (MAC on Linux, UUID on OS X) and / or
// advertised name
type DeviceRef struct {
	ID   string
	Name string
}

// Command denotes a fixed outbound device command
type Command int

const (

	// CmdTare tares the scale
	CmdTare Command = iota

	// CmdStartTimer starts the onboard timer
	CmdStartTimer

	// CmdStopTimer stops the onboard timer
	CmdStopTimer

	// CmdResetTimer resets the onboard timer
	CmdResetTimer
)

var commandNames = []string{"tare", "start_timer", "stop_timer", "reset_timer"}

// String returns a string representation of the command
func (c Command) String() string {
	if int(c) < 0 || int(c) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[c]
}

// DataPoint denotes a weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Unit      Unit
	Weight    float64
	FlowRate  float64
}

// Value provides a method to retrieve the current value (for interface use)
func (d DataPoint) Value() float64 {
	return d.Weight
}
