package bookoo

import (
	"time"

	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	defaultDeviceName     = "BOOKOO_SC"
	dataService           = "0ffe"
	statusCharacteristic  = "ff11"
	commandCharacteristic = "ff12"

	frameLength = 10
	signOffset  = 6
	minusSign   = '-'
)

var (
	cmdTare       = []byte{0x03, 0x0a, 0x01, 0x00, 0x00, 0x08}
	cmdStartTimer = []byte{0x03, 0x0a, 0x04, 0x00, 0x00, 0x0a}
	cmdStopTimer  = []byte{0x03, 0x0a, 0x05, 0x00, 0x00, 0x0d}
	cmdResetTimer = []byte{0x03, 0x0a, 0x06, 0x00, 0x00, 0x0c}
)

// Bookoo denotes a Bookoo bluetooth scale
type Bookoo struct {
	*blescale.Scale

	timer *stopwatch.Stopwatch
}

// New instantiates a new Bookoo scale on top of a BLE transport, executing
// functional options, if any
func New(transport ble.Transport, options ...blescale.Option) *Bookoo {
	return &Bookoo{
		Scale: blescale.New(Protocol{}, transport, options...),
	}
}

// StartTimer starts the onboard timer / stopwatch
func (b *Bookoo) StartTimer() error {
	if err := b.SendCommand(scale.CmdStartTimer); err != nil {
		return err
	}

	if b.timer == nil {
		b.timer = stopwatch.Start(0)
	} else {
		b.timer.Start(0)
	}

	return nil
}

// StopTimer stops the onboard timer / stopwatch
func (b *Bookoo) StopTimer() error {
	if err := b.SendCommand(scale.CmdStopTimer); err != nil {
		return err
	}

	if b.timer != nil {
		b.timer.Stop()
	}

	return nil
}

// ResetTimer resets the onboard timer / stopwatch
func (b *Bookoo) ResetTimer() error {
	if err := b.SendCommand(scale.CmdResetTimer); err != nil {
		return err
	}

	if b.timer != nil {
		b.timer.Reset()
	}

	return nil
}

// ElapsedTime returns the current timer value
func (b *Bookoo) ElapsedTime() time.Duration {
	if b.timer != nil {
		return b.timer.ElapsedTime()
	}

	return 0
}

////////////////////////////////////////////////////////////////////////////////

// Protocol denotes the Bookoo wire protocol
type Protocol struct{}

// Name returns the default advertised device name
func (Protocol) Name() string { return defaultDeviceName }

// Service returns the data service UUID
func (Protocol) Service() string { return dataService }

// StatusCharacteristic returns the UUID of the weight notification characteristic
func (Protocol) StatusCharacteristic() string { return statusCharacteristic }

// CommandCharacteristic returns the UUID of the command characteristic
func (Protocol) CommandCharacteristic() string { return commandCharacteristic }

// Decode decodes a status frame: h1..h6, an ASCII sign, and a 3-byte big-endian
// magnitude in hundredths of a gram. Shorter frames are rejected
func (Protocol) Decode(frame []byte) (blescale.Reading, bool) {
	return ParseWeight(frame)
}

// Command returns the fixed opcode for a command
func (Protocol) Command(cmd scale.Command) ([]byte, bool) {
	switch cmd {
	case scale.CmdTare:
		return append([]byte(nil), cmdTare...), true
	case scale.CmdStartTimer:
		return append([]byte(nil), cmdStartTimer...), true
	case scale.CmdStopTimer:
		return append([]byte(nil), cmdStopTimer...), true
	case scale.CmdResetTimer:
		return append([]byte(nil), cmdResetTimer...), true
	}

	return nil, false
}

// ParseWeight decodes the weight from a status frame
func ParseWeight(frame []byte) (blescale.Reading, bool) {
	if len(frame) < frameLength {
		return blescale.Reading{}, false
	}

	raw := uint32(frame[signOffset+1])<<16 | uint32(frame[signOffset+2])<<8 | uint32(frame[signOffset+3])
	weight := float64(raw) / 100.
	if frame[signOffset] == minusSign {
		weight = -weight
	}

	return blescale.Reading{
		Weight: weight,
		Unit:   scale.UnitGrams,
	}, true
}
