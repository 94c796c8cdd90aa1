// Package gattble implements the asynchronous ble.Transport on top of the
// (blocking) github.com/fako1024/gatt central API. Every GATT procedure runs
// on its own goroutine and reports its outcome as a ble.Event
package gattble

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fako1024/gatt"
	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/scale"
)

const defaultMTU = 500

// ErrPoweredOff denotes a powered off / unavailable bluetooth adapter
var ErrPoweredOff = errors.New("bluetooth adapter powered off")

// Transport denotes a BLE central connection to a single peripheral
type Transport struct {
	mu sync.Mutex

	device        gatt.Device
	deviceOptions []gatt.Option
	initialized   bool
	poweredOn     bool
	mtu           uint16

	ref        scale.DeviceRef
	wanted     bool
	peripheral gatt.Peripheral
	doneChan   chan struct{}

	services        map[string]*gatt.Service
	characteristics map[string]*gatt.Characteristic

	handler func(ev ble.Event)
	logger  scale.Logger
}

// Option denotes a functional option for the transport
type Option func(*Transport)

// WithLogger sets the logger
func WithLogger(logger scale.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithDevice sets an existing GATT device instead of creating one upon connection
func WithDevice(device gatt.Device) Option {
	return func(t *Transport) {
		t.device = device
	}
}

// WithDeviceOptions overrides the options used to create the GATT device
func WithDeviceOptions(options ...gatt.Option) Option {
	return func(t *Transport) {
		t.deviceOptions = options
	}
}

// WithMTU sets the connection MTU requested after connecting
func WithMTU(mtu uint16) Option {
	return func(t *Transport) {
		t.mtu = mtu
	}
}

// New instantiates a new transport, executing functional options, if any
func New(options ...Option) *Transport {
	t := &Transport{
		deviceOptions: defaultDeviceOptions,
		mtu:           defaultMTU,
		logger:        &scale.NullLogger{},
	}

	for _, option := range options {
		option(t)
	}

	return t
}

// SetEventHandler defines the function receiving all transport events
func (t *Transport) SetEventHandler(fn func(ev ble.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handler = fn
}

// Connect starts scanning for the referenced peripheral and connects to it once found
func (t *Transport) Connect(ref scale.DeviceRef) error {
	if ref.ID == "" && ref.Name == "" {
		return errors.New("no peripheral name or ID provided")
	}

	t.mu.Lock()
	t.ref = ref
	t.wanted = true

	if t.device == nil {
		device, err := gatt.NewDevice(t.deviceOptions...)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to initialize bluetooth device: %w", err)
		}
		t.device = device
	}
	device := t.device

	if !t.initialized {
		t.initialized = true
		t.mu.Unlock()

		device.Handle(
			gatt.AddPeripheralDiscovered(t.onPeriphDiscovered),
			gatt.AddPeripheralConnected(t.onPeriphConnected),
			gatt.AddPeripheralDisconnected(t.onPeriphDisconnected),
		)

		// Scanning starts once the adapter reports to be powered on
		return device.Init(t.onStateChanged)
	}

	poweredOn := t.poweredOn
	t.mu.Unlock()

	if !poweredOn {
		return ErrPoweredOff
	}

	return device.Scan([]gatt.UUID{}, false)
}

// Disconnect stops scanning and releases the peripheral, if connected
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.wanted = false
	device := t.device
	t.releaseLocked()
	t.mu.Unlock()

	if device == nil {
		return nil
	}

	return device.StopScanning()
}

// IsConnected returns if the link is currently established
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.peripheral != nil
}

// DiscoverServices starts primary service discovery
func (t *Transport) DiscoverServices() error {
	p, err := t.connectedPeripheral()
	if err != nil {
		return err
	}

	go func() {
		services, err := p.DiscoverServices(nil)
		if err != nil {
			t.emit(ble.Event{Type: ble.EventError, Err: fmt.Errorf("failed to discover services: %w", err)})
			return
		}

		uuids := make([]string, 0, len(services))
		t.mu.Lock()
		for _, s := range services {
			t.services[s.UUID().String()] = s
			uuids = append(uuids, s.UUID().String())
		}
		t.mu.Unlock()

		for _, uuid := range uuids {
			t.emit(ble.Event{Type: ble.EventServiceDiscovered, Service: uuid})
		}
		t.emit(ble.Event{Type: ble.EventServicesDiscovered, Services: uuids})
	}()

	return nil
}

// DiscoverCharacteristics starts characteristic and descriptor discovery for a service
func (t *Transport) DiscoverCharacteristics(service string) error {
	p, err := t.connectedPeripheral()
	if err != nil {
		return err
	}

	t.mu.Lock()
	s := lookup(t.services, service)
	t.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: %s", scale.ErrServiceNotFound, service)
	}

	go func() {
		chars, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			t.emit(ble.Event{Type: ble.EventError, Err: fmt.Errorf("failed to discover characteristics: %w", err)})
			return
		}

		discovered := make([]ble.Characteristic, 0, len(chars))
		for _, c := range chars {
			props := convertProperties(c.Properties())

			// The notification descriptor is only required for characteristics pushing values
			if props&(ble.PropNotify|ble.PropIndicate) != 0 {
				if _, err := p.DiscoverDescriptors(nil, c); err != nil {
					t.logger.Warnf("failed to discover descriptors of %s: %s", c.UUID(), err)
				}
			}

			t.mu.Lock()
			t.characteristics[charKey(service, c.UUID().String())] = c
			t.mu.Unlock()

			discovered = append(discovered, ble.Characteristic{
				UUID:       c.UUID().String(),
				Properties: props,
				HasCCCD:    c.Descriptor() != nil,
			})
		}

		t.emit(ble.Event{Type: ble.EventCharacteristicsDiscovered, Service: service, Characteristics: discovered})
	}()

	return nil
}

// EnableNotifications subscribes to a characteristic. Subscription failures are
// only logged, the consumer's watchdog is responsible for retrying
func (t *Transport) EnableNotifications(service, characteristic string) error {
	p, c, err := t.resolve(service, characteristic)
	if err != nil {
		return err
	}

	go func() {
		if err := p.SetNotifyValue(c, func(_ *gatt.Characteristic, data []byte, err error) {
			if err != nil {
				t.logger.Debugf("dropping notification of %s: %s", characteristic, err)
				return
			}
			t.emit(ble.Event{
				Type:           ble.EventNotification,
				Service:        service,
				Characteristic: characteristic,
				Data:           append([]byte(nil), data...),
			})
		}); err != nil {
			t.logger.Warnf("failed to subscribe to %s: %s", characteristic, err)
			return
		}

		t.emit(ble.Event{Type: ble.EventDescriptorWritten, Service: service, Characteristic: characteristic})
	}()

	return nil
}

// Write writes data to a characteristic
func (t *Transport) Write(service, characteristic string, data []byte, withResponse bool) error {
	p, c, err := t.resolve(service, characteristic)
	if err != nil {
		return err
	}

	payload := append([]byte(nil), data...)
	go func() {
		if err := p.WriteCharacteristic(c, payload, !withResponse); err != nil {
			t.logger.Warnf("failed to write to %s: %s", characteristic, err)
		}
	}()

	return nil
}

// Read starts reading a characteristic value
func (t *Transport) Read(service, characteristic string) error {
	p, c, err := t.resolve(service, characteristic)
	if err != nil {
		return err
	}

	go func() {
		data, err := p.ReadCharacteristic(c)
		t.emit(ble.Event{
			Type:           ble.EventCharacteristicRead,
			Service:        service,
			Characteristic: characteristic,
			Data:           data,
			Err:            err,
		})
	}()

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) onStateChanged(d gatt.Device, s gatt.State) {
	t.mu.Lock()
	t.poweredOn = s == gatt.StatePoweredOn
	wanted := t.wanted
	t.mu.Unlock()

	switch s {
	case gatt.StatePoweredOn:
		if !wanted {
			return
		}
		if err := d.Scan([]gatt.UUID{}, false); err != nil {
			t.emit(ble.Event{Type: ble.EventError, Err: fmt.Errorf("failed to enable scanning: %w", err)})
		}
	case gatt.StatePoweredOff:
		if wanted {
			t.emit(ble.Event{Type: ble.EventError, Err: ErrPoweredOff})
		}
	default:
		if err := d.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	}
}

func (t *Transport) onPeriphDiscovered(p gatt.Peripheral, _ *gatt.Advertisement, _ int) {
	t.mu.Lock()
	eligible := t.wanted && t.peripheral == nil && matches(t.ref, p.ID(), p.Name())
	t.mu.Unlock()

	if !eligible {
		return
	}

	t.logger.Debugf("connecting peripheral `%s/%s`", p.Name(), p.ID())

	// Stop scanning once we've got the peripheral we're looking for
	if err := p.Device().StopScanning(); err != nil {
		t.logger.Warnf("failed to stop scanning: %s", err)
	}
	if err := p.Device().Connect(p); err != nil {
		t.emit(ble.Event{Type: ble.EventError, Err: fmt.Errorf("failed to connect peripheral `%s/%s`: %w", p.Name(), p.ID(), err)})
	}
}

func (t *Transport) onPeriphConnected(p gatt.Peripheral, err error) {
	t.mu.Lock()
	if !t.wanted || !matches(t.ref, p.ID(), p.Name()) {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.mu.Unlock()
		t.emit(ble.Event{Type: ble.EventError, Err: err})
		return
	}

	done := make(chan struct{})
	t.peripheral = p
	t.doneChan = done
	t.services = make(map[string]*gatt.Service)
	t.characteristics = make(map[string]*gatt.Characteristic)
	mtu := t.mtu
	t.mu.Unlock()

	t.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())
	if err := p.SetMTU(mtu); err != nil {
		t.logger.Warnf("failed to set MTU: %s", err)
	}
	t.emit(ble.Event{Type: ble.EventConnected})

	// Hold the connection until released
	<-done
	t.logger.Debugf("releasing peripheral `%s/%s`", p.Name(), p.ID())
	if err := p.Device().CancelConnection(p); err != nil {
		t.logger.Debugf("failed to cancel connection: %s", err)
	}
}

func (t *Transport) onPeriphDisconnected(p gatt.Peripheral, err error) {
	t.mu.Lock()
	if t.peripheral == nil || t.peripheral.ID() != p.ID() {
		t.mu.Unlock()
		return
	}
	t.releaseLocked()
	t.mu.Unlock()

	t.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())
	t.emit(ble.Event{Type: ble.EventDisconnected, Err: err})
}

func (t *Transport) releaseLocked() {
	if t.doneChan != nil {
		close(t.doneChan)
		t.doneChan = nil
	}
	t.peripheral = nil
}

func (t *Transport) connectedPeripheral() (gatt.Peripheral, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peripheral == nil {
		return nil, scale.ErrNotConnected
	}
	return t.peripheral, nil
}

func (t *Transport) resolve(service, characteristic string) (gatt.Peripheral, *gatt.Characteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peripheral == nil {
		return nil, nil, scale.ErrNotConnected
	}
	for key, c := range t.characteristics {
		if s, ch, ok := strings.Cut(key, "/"); ok && ble.SameUUID(s, service) && ble.SameUUID(ch, characteristic) {
			return t.peripheral, c, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: %s", scale.ErrCharacteristicNotFound, characteristic)
}

func (t *Transport) emit(ev ble.Event) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

func lookup(services map[string]*gatt.Service, uuid string) *gatt.Service {
	for key, s := range services {
		if ble.SameUUID(key, uuid) {
			return s
		}
	}
	return nil
}

func charKey(service, characteristic string) string {
	return service + "/" + characteristic
}

func matches(ref scale.DeviceRef, id, name string) bool {

	// An explicit ID takes precedence over the advertised name
	if ref.ID != "" {
		return strings.EqualFold(id, ref.ID)
	}
	return ref.Name != "" && strings.EqualFold(name, ref.Name)
}

func convertProperties(p gatt.Property) ble.Property {
	var props ble.Property
	if p&gatt.CharRead != 0 {
		props |= ble.PropRead
	}
	if p&gatt.CharWrite != 0 {
		props |= ble.PropWrite
	}
	if p&gatt.CharWriteNR != 0 {
		props |= ble.PropWriteNoResponse
	}
	if p&gatt.CharNotify != 0 {
		props |= ble.PropNotify
	}
	if p&gatt.CharIndicate != 0 {
		props |= ble.PropIndicate
	}
	return props
}
