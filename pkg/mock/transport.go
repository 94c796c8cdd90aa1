package mock

import (
	"sync"

	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/scale"
)

// Operations recorded by Transport
const (
	OpConnect                 = "connect"
	OpDisconnect              = "disconnect"
	OpDiscoverServices        = "discover_services"
	OpDiscoverCharacteristics = "discover_characteristics"
	OpEnableNotifications     = "enable_notifications"
	OpWrite                   = "write"
	OpRead                    = "read"
)

// Call denotes a recorded transport call
type Call struct {
	Op             string
	Ref            scale.DeviceRef
	Service        string
	Characteristic string
	Data           []byte
	WithResponse   bool
}

// Transport denotes a scriptable BLE transport. Calls are recorded and events
// are only delivered when injected via Emit
type Transport struct {
	mu        sync.Mutex
	handler   func(ev ble.Event)
	connected bool
	calls     []Call

	// Errors maps operations to errors returned by the respective call
	Errors map[string]error
}

// NewTransport instantiates a new mock transport
func NewTransport() *Transport {
	return &Transport{
		Errors: make(map[string]error),
	}
}

// SetEventHandler defines the function receiving all transport events
func (t *Transport) SetEventHandler(fn func(ev ble.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Connect records a connection request
func (t *Transport) Connect(ref scale.DeviceRef) error {
	return t.record(Call{Op: OpConnect, Ref: ref})
}

// Disconnect records a disconnect request and drops the link
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	return t.record(Call{Op: OpDisconnect})
}

// DiscoverServices records a service discovery request
func (t *Transport) DiscoverServices() error {
	return t.record(Call{Op: OpDiscoverServices})
}

// DiscoverCharacteristics records a characteristic discovery request
func (t *Transport) DiscoverCharacteristics(service string) error {
	return t.record(Call{Op: OpDiscoverCharacteristics, Service: service})
}

// EnableNotifications records a subscription request
func (t *Transport) EnableNotifications(service, characteristic string) error {
	return t.record(Call{Op: OpEnableNotifications, Service: service, Characteristic: characteristic})
}

// Write records a characteristic write
func (t *Transport) Write(service, characteristic string, data []byte, withResponse bool) error {
	return t.record(Call{
		Op:             OpWrite,
		Service:        service,
		Characteristic: characteristic,
		Data:           append([]byte(nil), data...),
		WithResponse:   withResponse,
	})
}

// Read records a characteristic read
func (t *Transport) Read(service, characteristic string) error {
	return t.record(Call{Op: OpRead, Service: service, Characteristic: characteristic})
}

// IsConnected returns if a Connected event was emitted more recently than a
// Disconnected one
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Emit delivers an event to the registered handler
func (t *Transport) Emit(ev ble.Event) {
	t.mu.Lock()
	switch ev.Type {
	case ble.EventConnected:
		t.connected = true
	case ble.EventDisconnected, ble.EventError:
		t.connected = false
	}
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

// Calls returns all recorded calls of an operation (all calls if op is empty)
func (t *Transport) Calls(op string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res []Call
	for _, c := range t.calls {
		if op == "" || c.Op == op {
			res = append(res, c)
		}
	}
	return res
}

// Count returns the number of recorded calls of an operation
func (t *Transport) Count(op string) int {
	return len(t.Calls(op))
}

func (t *Transport) record(c Call) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, c)
	return t.Errors[c.Op]
}
