// Package blescale implements the connection state machine shared by all
// physical Bluetooth LE scales: discovery, delayed notification subscription,
// a liveness watchdog with bounded retries, and frame decoding via a
// device-specific Protocol.
package blescale

import (
	"fmt"
	"strings"
	"time"

	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/scale"
)

const (
	defaultSubscribeDelay         = 200 * time.Millisecond
	defaultWatchdogInterval       = time.Second
	defaultDiscoveryTimeout       = 10 * time.Second
	defaultMaxNotificationRetries = 3

	flowSmoothing = 0.3
	maxFlowGap    = time.Second
)

// Reading denotes a single decoded weight frame
type Reading struct {
	Weight float64
	Unit   scale.Unit
}

// Protocol denotes the device specific part of a BLE scale
type Protocol interface {

	// Name returns the default device name
	Name() string

	// Service returns the UUID of the data service
	Service() string

	// StatusCharacteristic returns the UUID of the characteristic carrying weight notifications
	StatusCharacteristic() string

	// CommandCharacteristic returns the UUID of the characteristic accepting commands
	CommandCharacteristic() string

	// Decode decodes a notification payload. It must not panic on any input and
	// returns false for frames that are to be dropped
	Decode(frame []byte) (Reading, bool)

	// Command returns the fixed opcode for a command, if supported
	Command(cmd scale.Command) ([]byte, bool)
}

// Scale denotes a physical BLE scale driven through an asynchronous transport.
// All methods must be called from the owning executor
type Scale struct {
	protocol  Protocol
	transport ble.Transport

	exec   loop.Executor
	clock  clock.Clock
	logger scale.Logger

	subscribeDelay         time.Duration
	watchdogInterval       time.Duration
	discoveryTimeout       time.Duration
	maxNotificationRetries int

	connectionStatus scale.ConnectionStatus
	ref              scale.DeviceRef
	generation       uint64

	serviceFound        bool
	statusChar          *ble.Characteristic
	commandChar         *ble.Characteristic
	receivedData        bool
	notificationRetries int
	gaveUp              bool

	subscribeTimer *loop.Timer
	watchdog       *loop.Timer
	discoveryTimer *loop.Timer

	weight     float64
	flowRate   float64
	unit       scale.Unit
	lastDataAt time.Time

	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus

	dataHandler func(data scale.DataPoint)
	dataChan    chan scale.DataPoint
}

// New instantiates a new scale driver for the given protocol, executing
// functional options, if any
func New(protocol Protocol, transport ble.Transport, options ...Option) *Scale {

	s := &Scale{
		protocol:  protocol,
		transport: transport,

		exec:   loop.Inline{},
		clock:  clock.Real(),
		logger: &scale.NullLogger{},

		subscribeDelay:         defaultSubscribeDelay,
		watchdogInterval:       defaultWatchdogInterval,
		discoveryTimeout:       defaultDiscoveryTimeout,
		maxNotificationRetries: defaultMaxNotificationRetries,

		unit: scale.UnitUnknown,
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}

	return s
}

// Name returns the name of the device
func (s *Scale) Name() string {
	if s.ref.Name != "" {
		return s.ref.Name
	}
	return s.protocol.Name()
}

// ConnectionStatus returns the current status of the bluetooth device
func (s *Scale) ConnectionStatus() scale.ConnectionStatus {
	return s.connectionStatus
}

// IsConnected returns if the device has delivered data on the current connection
func (s *Scale) IsConnected() bool {
	return s.connectionStatus.State == scale.StateConnected
}

// Weight returns the last decoded weight in grams
func (s *Scale) Weight() float64 {
	return s.weight
}

// FlowRate returns the current flow rate estimate in g/s
func (s *Scale) FlowRate() float64 {
	return s.flowRate
}

// Unit returns the unit reported by the device, if any
func (s *Scale) Unit() scale.Unit {
	return s.unit
}

// NotificationRetries returns the number of subscription retries on the current connection
func (s *Scale) NotificationRetries() int {
	return s.notificationRetries
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (s *Scale) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	s.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes
func (s *Scale) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	s.stateChangeChan = ch
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (s *Scale) SetDataHandler(fn func(data scale.DataPoint)) {
	s.dataHandler = fn
}

// SetDataChannel defines a channel that receives data points
func (s *Scale) SetDataChannel(ch chan scale.DataPoint) {
	s.dataChan = ch
}

// Connect starts connecting to the referenced device. Any existing connection
// is torn down first
func (s *Scale) Connect(ref scale.DeviceRef) error {

	if s.connectionStatus.State != scale.StateDisconnected && s.connectionStatus.State != scale.StateFailed {
		if err := s.Disconnect(); err != nil {
			s.logger.Warnf("failed to disconnect before reconnecting: %s", err)
		}
	}

	s.generation++
	gen := s.generation
	s.ref = ref
	s.resetLink()

	// Events may arrive on any goroutine, marshal them onto the owning executor and
	// drop everything belonging to an earlier connection attempt
	s.transport.SetEventHandler(func(ev ble.Event) {
		s.exec.Post(func() {
			if gen != s.generation {
				s.logger.Debugf("dropping stale %s event", ev.Type)
				return
			}
			s.handleEvent(ev)
		})
	})

	s.setStatus(scale.StateConnecting, nil)
	if err := s.transport.Connect(ref); err != nil {
		err = fmt.Errorf("failed to connect device `%s/%s`: %w", ref.Name, ref.ID, err)
		s.fail(err)
		return err
	}

	return nil
}

// Disconnect terminates the connection to the device. In-flight discovery and
// subscription continuations are invalidated
func (s *Scale) Disconnect() error {
	s.generation++
	s.teardown()

	err := s.transport.Disconnect()
	s.setStatus(scale.StateDisconnected, nil)

	return err
}

// Tare tares the scale
func (s *Scale) Tare() error {
	return s.SendCommand(scale.CmdTare)
}

// SendCommand writes the fixed opcode of a command to the command characteristic
func (s *Scale) SendCommand(cmd scale.Command) error {
	data, ok := s.protocol.Command(cmd)
	if !ok {
		return fmt.Errorf("%w: %s", scale.ErrCommandUnsupported, cmd)
	}

	return s.WriteCommand(data)
}

// WriteCommand writes raw data to the command characteristic
func (s *Scale) WriteCommand(data []byte) error {
	if s.commandChar == nil || !s.transport.IsConnected() {
		return fmt.Errorf("failed to write to uninitialized device: %w", scale.ErrNotConnected)
	}

	withResponse := s.commandChar.Properties&ble.PropWrite != 0
	return s.transport.Write(s.protocol.Service(), s.commandChar.UUID, data, withResponse)
}

////////////////////////////////////////////////////////////////////////////////

func (s *Scale) setStatus(state scale.ConnectionState, err error) {
	s.connectionStatus = scale.ConnectionStatus{
		State: state,
		Error: err,
	}

	// Call handler function, if any
	if s.stateChangeHandler != nil {
		s.stateChangeHandler(s.connectionStatus)
	}

	// Put state change on channel, if any
	if s.stateChangeChan != nil {
		select {
		case s.stateChangeChan <- s.connectionStatus:
		default:
		}
	}
}

func (s *Scale) resetLink() {
	s.teardown()
	s.serviceFound = false
	s.statusChar = nil
	s.commandChar = nil
	s.notificationRetries = 0
	s.gaveUp = false
}

func (s *Scale) teardown() {
	s.subscribeTimer.Stop()
	s.watchdog.Stop()
	s.discoveryTimer.Stop()
	s.receivedData = false
	s.lastDataAt = time.Time{}
}

func (s *Scale) fail(err error) {
	s.teardown()
	s.logger.Errorf("%s: %s", s.Name(), err)
	s.setStatus(scale.StateFailed, err)
}

func (s *Scale) handleEvent(ev ble.Event) {
	switch ev.Type {
	case ble.EventConnected:
		s.onConnected()
	case ble.EventServiceDiscovered:
		if ble.SameUUID(ev.Service, s.protocol.Service()) {
			s.logger.Debugf("%s: found data service %s", s.Name(), ev.Service)
			s.serviceFound = true
		}
	case ble.EventServicesDiscovered:
		s.onServicesDiscovered(ev.Services)
	case ble.EventCharacteristicsDiscovered:
		s.onCharacteristicsDiscovered(ev.Service, ev.Characteristics)
	case ble.EventDescriptorWritten:
		s.onDescriptorWritten(ev.Characteristic)
	case ble.EventNotification:
		if !ble.SameUUID(ev.Characteristic, s.protocol.StatusCharacteristic()) {
			s.logger.Debugf("%s: ignoring notification on %s", s.Name(), ev.Characteristic)
			return
		}
		s.receiveData(ev.Data)
	case ble.EventCharacteristicRead:
		s.logger.Debugf("%s: read %d bytes from %s", s.Name(), len(ev.Data), ev.Characteristic)
	case ble.EventDisconnected:
		s.teardown()
		s.logger.Warnf("%s: link lost", s.Name())
		s.setStatus(scale.StateDisconnected, scale.ErrLinkLost)
	case ble.EventError:
		s.fail(fmt.Errorf("connection error: %w", ev.Err))
	}
}

func (s *Scale) onConnected() {
	if s.connectionStatus.State != scale.StateConnecting {
		return
	}

	s.logger.Debugf("%s: link established, starting service discovery", s.Name())
	s.setStatus(scale.StateDiscoveringServices, nil)
	s.armDiscoveryTimeout()

	if err := s.transport.DiscoverServices(); err != nil {
		s.fail(fmt.Errorf("failed to discover services: %w", err))
	}
}

func (s *Scale) onServicesDiscovered(services []string) {
	if s.connectionStatus.State != scale.StateDiscoveringServices {
		return
	}

	for _, uuid := range services {
		if ble.SameUUID(uuid, s.protocol.Service()) {
			s.serviceFound = true
		}
	}
	if !s.serviceFound {
		s.logger.Debugf("%s: available services: %s", s.Name(), strings.Join(services, ", "))
		s.fail(fmt.Errorf("%w: %s", scale.ErrServiceNotFound, s.protocol.Service()))
		return
	}

	s.setStatus(scale.StateDiscoveringCharacteristics, nil)
	s.armDiscoveryTimeout()

	if err := s.transport.DiscoverCharacteristics(s.protocol.Service()); err != nil {
		s.fail(fmt.Errorf("failed to discover characteristics: %w", err))
	}
}

func (s *Scale) onCharacteristicsDiscovered(service string, chars []ble.Characteristic) {
	if s.connectionStatus.State != scale.StateDiscoveringCharacteristics || !ble.SameUUID(service, s.protocol.Service()) {
		return
	}
	s.discoveryTimer.Stop()

	for i := range chars {
		c := chars[i]
		if ble.SameUUID(c.UUID, s.protocol.StatusCharacteristic()) && c.CanNotify() {
			s.statusChar = &c
		}
		if ble.SameUUID(c.UUID, s.protocol.CommandCharacteristic()) {
			s.commandChar = &c
		}
	}

	if s.statusChar == nil {
		for _, c := range chars {
			s.logger.Debugf("%s: available characteristic %s (properties: %#x)", s.Name(), c.UUID, c.Properties)
		}
		s.fail(fmt.Errorf("%w: %s", scale.ErrCharacteristicNotFound, s.protocol.StatusCharacteristic()))
		return
	}
	if s.commandChar == nil {
		s.logger.Warnf("%s: command characteristic %s not found, commands will fail", s.Name(), s.protocol.CommandCharacteristic())
	}

	// Reset watchdog state for the new subscription
	s.notificationRetries = 0
	s.gaveUp = false
	s.receivedData = false

	// Some BLE stacks silently drop a subscription issued right after discovery
	s.subscribeTimer = loop.AfterFunc(s.clock, s.exec, s.subscribeDelay, s.enableNotifications)
}

func (s *Scale) enableNotifications() {
	if s.statusChar == nil || s.receivedData {
		return
	}

	s.logger.Debugf("%s: enabling notifications (attempt %d)", s.Name(), s.notificationRetries+1)
	if !s.statusChar.HasCCCD {
		s.logger.Warnf("%s: no notification descriptor found on %s, attempting subscription anyway", s.Name(), s.statusChar.UUID)
	}

	s.setStatus(scale.StateSubscribingNotifications, nil)
	if err := s.transport.EnableNotifications(s.protocol.Service(), s.statusChar.UUID); err != nil {
		s.logger.Warnf("%s: failed to enable notifications: %s", s.Name(), err)
	}

	// Retry the subscription if no data arrives in time
	s.watchdog.Stop()
	s.watchdog = loop.AfterFunc(s.clock, s.exec, s.watchdogInterval, s.onWatchdogTimeout)
}

func (s *Scale) onDescriptorWritten(characteristic string) {
	if s.connectionStatus.State != scale.StateSubscribingNotifications ||
		!ble.SameUUID(characteristic, s.protocol.StatusCharacteristic()) {
		return
	}

	// The acknowledgement does not guarantee the device is streaming, so Connected
	// is only declared upon the first payload
	s.logger.Debugf("%s: notification descriptor written", s.Name())
	s.setStatus(scale.StateAwaitingFirstData, nil)
}

func (s *Scale) onWatchdogTimeout() {
	if s.receivedData || s.gaveUp {
		return
	}

	if s.notificationRetries >= s.maxNotificationRetries {
		s.gaveUp = true
		s.logger.Warnf("%s: failed to receive weight data after %d retries, giving up", s.Name(), s.notificationRetries)

		// The link itself may still be usable, so it is left intact
		s.setStatus(s.connectionStatus.State, scale.ErrNotResponding)
		return
	}

	s.notificationRetries++
	s.logger.Infof("%s: no weight data received, retrying notification subscription (%d/%d)",
		s.Name(), s.notificationRetries, s.maxNotificationRetries)
	s.enableNotifications()
}

func (s *Scale) armDiscoveryTimeout() {
	s.discoveryTimer.Stop()
	s.discoveryTimer = loop.AfterFunc(s.clock, s.exec, s.discoveryTimeout, func() {
		s.fail(fmt.Errorf("%w while %s", scale.ErrDiscoveryTimeout, s.connectionStatus.State))
	})
}

func (s *Scale) receiveData(frame []byte) {

	// Data is only accepted once the subscription has been issued on this link
	switch s.connectionStatus.State {
	case scale.StateSubscribingNotifications, scale.StateAwaitingFirstData, scale.StateConnected:
	default:
		s.logger.Debugf("%s: ignoring notification while %s", s.Name(), s.connectionStatus.State)
		return
	}

	reading, ok := s.protocol.Decode(frame)
	if !ok {
		s.logger.Debugf("%s: dropping malformed frame of %d bytes", s.Name(), len(frame))
		return
	}

	// First data received - the device is truly connected now
	if !s.receivedData {
		s.receivedData = true
		s.watchdog.Stop()
		s.subscribeTimer.Stop()
		s.logger.Infof("%s: first weight data received, connection confirmed", s.Name())
		s.setStatus(scale.StateConnected, nil)
	}

	now := s.clock.Now()
	s.updateFlowRate(reading.Weight, now)
	s.weight = reading.Weight
	if reading.Unit != "" {
		s.unit = reading.Unit
	}

	dataPoint := scale.DataPoint{
		TimeStamp: now,
		Unit:      s.unit,
		Weight:    s.weight,
		FlowRate:  s.flowRate,
	}

	// Call handler function, if any
	if s.dataHandler != nil {
		s.dataHandler(dataPoint)
	}

	// Put data point on channel, if any
	if s.dataChan != nil {
		select {
		case s.dataChan <- dataPoint:
		default:
			s.logger.Debugf("%s: data channel full, dropping data point", s.Name())
		}
	}
}

func (s *Scale) updateFlowRate(weight float64, now time.Time) {
	defer func() { s.lastDataAt = now }()

	if s.lastDataAt.IsZero() {
		s.flowRate = 0
		return
	}

	dt := now.Sub(s.lastDataAt)
	if dt <= 0 {
		return
	}
	if dt > maxFlowGap {
		s.flowRate = 0
		return
	}

	instant := (weight - s.weight) / dt.Seconds()
	s.flowRate += flowSmoothing * (instant - s.flowRate)
}
