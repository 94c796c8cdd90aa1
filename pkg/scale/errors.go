package scale

import "errors"

var (

	// ErrNotConnected denotes an operation requiring an established link
	ErrNotConnected = errors.New("device not connected")

	// ErrServiceNotFound denotes a peripheral lacking the expected data service
	ErrServiceNotFound = errors.New("data service not found")

	// ErrCharacteristicNotFound denotes a data service lacking a required characteristic
	ErrCharacteristicNotFound = errors.New("required characteristic not found")

	// ErrDiscoveryTimeout denotes a service / characteristic discovery that did not complete in time
	ErrDiscoveryTimeout = errors.New("discovery timed out")

	// ErrNotResponding denotes a subscribed device that never delivered data (non-fatal)
	ErrNotResponding = errors.New("device not responding - no weight data received")

	// ErrLinkLost denotes an unexpected loss of the link
	ErrLinkLost = errors.New("link lost")

	// ErrCommandUnsupported denotes a command the device protocol does not provide
	ErrCommandUnsupported = errors.New("command not supported by device")
)
