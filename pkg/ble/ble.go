// Package ble defines an abstract, asynchronous Bluetooth LE central transport.
// Every operation only initiates the corresponding GATT procedure; its outcome
// is reported as an Event, potentially from a different goroutine than the
// caller's. Consumers must marshal events onto their owning loop.
package ble

import (
	"strings"

	"github.com/fako1024/shotctl/pkg/scale"
)

// Transport denotes an asynchronous BLE central connection to one peripheral
type Transport interface {

	// SetEventHandler defines the function receiving all transport events
	SetEventHandler(fn func(ev Event))

	// Connect starts scanning for / connecting to the referenced peripheral
	Connect(ref scale.DeviceRef) error

	// Disconnect tears down the connection (or cancels a pending one)
	Disconnect() error

	// DiscoverServices starts primary service discovery
	DiscoverServices() error

	// DiscoverCharacteristics starts characteristic (and descriptor) discovery
	// for a previously discovered service
	DiscoverCharacteristics(service string) error

	// EnableNotifications writes the client characteristic configuration descriptor
	// of a characteristic to enable notifications
	EnableNotifications(service, characteristic string) error

	// Write writes data to a characteristic
	Write(service, characteristic string, data []byte, withResponse bool) error

	// Read starts reading a characteristic value
	Read(service, characteristic string) error

	// IsConnected returns if the link is currently established
	IsConnected() bool
}

// EventType denotes the type of a transport event
type EventType int

const (

	// EventConnected is emitted once the link to the peripheral is established
	EventConnected EventType = iota

	// EventDisconnected is emitted when the link was closed or lost
	EventDisconnected

	// EventError is emitted on link / radio errors (Err is set)
	EventError

	// EventServiceDiscovered is emitted for each discovered service (Service is set)
	EventServiceDiscovered

	// EventServicesDiscovered is emitted once service discovery finished (Services is set)
	EventServicesDiscovered

	// EventCharacteristicsDiscovered is emitted once characteristic discovery for a
	// service finished (Service and Characteristics are set)
	EventCharacteristicsDiscovered

	// EventDescriptorWritten is emitted once a notification subscription was acknowledged
	EventDescriptorWritten

	// EventNotification carries a notified characteristic value
	EventNotification

	// EventCharacteristicRead carries the result of a Read
	EventCharacteristicRead
)

// String returns a string representation of the event type
func (t EventType) String() string {
	return []string{
		"connected",
		"disconnected",
		"error",
		"service_discovered",
		"services_discovered",
		"characteristics_discovered",
		"descriptor_written",
		"notification",
		"characteristic_read",
	}[t]
}

// Event denotes an asynchronous transport event
type Event struct {
	Type EventType

	Service         string
	Characteristic  string
	Services        []string
	Characteristics []Characteristic
	Data            []byte

	Err error
}

// Property denotes a characteristic property bit
type Property uint8

const (

	// PropRead denotes a readable characteristic
	PropRead Property = 1 << iota

	// PropWrite denotes a characteristic writable with response
	PropWrite

	// PropWriteNoResponse denotes a characteristic writable without response
	PropWriteNoResponse

	// PropNotify denotes a characteristic supporting notifications
	PropNotify

	// PropIndicate denotes a characteristic supporting indications
	PropIndicate
)

// Characteristic describes a discovered characteristic
type Characteristic struct {
	UUID       string
	Properties Property

	// HasCCCD is set if a client characteristic configuration descriptor was discovered
	HasCCCD bool
}

// CanNotify returns if the characteristic can push values
func (c Characteristic) CanNotify() bool {
	return c.Properties&(PropNotify|PropIndicate) != 0
}

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// SameUUID compares two UUID strings, treating 16-bit short forms ("ff11") as
// equal to their expansion within the Bluetooth base UUID
func SameUUID(a, b string) bool {
	return normalizeUUID(a) == normalizeUUID(b)
}

func normalizeUUID(u string) string {
	u = strings.ToLower(strings.Trim(u, "{}"))
	if len(u) == 4 {
		return "0000" + u + baseUUIDSuffix
	}
	if len(u) == 32 {
		return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
	}

	return u
}
