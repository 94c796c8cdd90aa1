package felicita

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	defaultDeviceName  = "FELICITA"
	dataService        = "ffe0"
	dataCharacteristic = "ffe1"

	frameLength = 18

	minBatteryLevel = 129.
	maxBatteryLevel = 158.

	cmdStartTimer = 0x52
	cmdStopTimer  = 0x53
	cmdResetTimer = 0x43

	cmdToggleBuzzer    = 0x42
	cmdTogglePrecision = 0x44
	cmdTare            = 0x54
	cmdToggleUnit      = 0x55
)

// Felicita denotes a Felicita bluetooth scale
type Felicita struct {
	*blescale.Scale

	batteryLevel     byte
	isBuzzingOnTouch bool

	timer *stopwatch.Stopwatch

	forceBuzzerSettingOnConnect BuzzerSetting
	hasReceivedData             bool
	scaleOptions                []blescale.Option
}

// New instantiates a new Felicita scale on top of a BLE transport, executing
// functional options, if any
func New(transport ble.Transport, options ...Option) *Felicita {

	f := &Felicita{}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(f)
	}
	f.Scale = blescale.New(protocol{f: f}, transport, f.scaleOptions...)

	return f
}

// IsBuzzingOnTouch returns if the scale buzzer is turned on or not (on user interaction)
func (f *Felicita) IsBuzzingOnTouch() bool {
	return f.isBuzzingOnTouch
}

// BatteryLevel returns the current battery level
func (f *Felicita) BatteryLevel() float64 {
	return parseBatteryLevel(f.batteryLevel)
}

// BatteryLevelRaw returns the current battery level in its raw form
func (f *Felicita) BatteryLevelRaw() int {
	return int(f.batteryLevel)
}

// ToggleBuzzingOnTouch turns the buzzer (on user interaction) on / off
func (f *Felicita) ToggleBuzzingOnTouch() error {
	return f.WriteCommand([]byte{cmdToggleBuzzer})
}

// SetUnit changes the weight unit from / to g / oz
func (f *Felicita) SetUnit(unit scale.Unit) error {

	// Check if the unit is already set to the expected value
	if f.Unit() != scale.UnitUnknown && f.Unit() == unit {
		return nil
	}

	// Toggle unit, if not
	return f.WriteCommand([]byte{cmdToggleUnit})
}

// TogglePrecision toggles the weight precision between 0.1 and 0.01
func (f *Felicita) TogglePrecision() error {
	return f.WriteCommand([]byte{cmdTogglePrecision})
}

// StartTimer starts the timer / stopwatch
func (f *Felicita) StartTimer() error {
	if err := f.SendCommand(scale.CmdStartTimer); err != nil {
		return err
	}

	if f.timer == nil {
		f.timer = stopwatch.Start(0)
	} else {
		f.timer.Start(0)
	}

	return nil
}

// StopTimer stops the timer / stopwatch
func (f *Felicita) StopTimer() error {
	if err := f.SendCommand(scale.CmdStopTimer); err != nil {
		return err
	}

	if f.timer != nil {
		f.timer.Stop()
	}

	return nil
}

// ResetTimer resets the timer / stopwatch
func (f *Felicita) ResetTimer() error {
	if err := f.SendCommand(scale.CmdResetTimer); err != nil {
		return err
	}

	if f.timer != nil {
		f.timer.Reset()
	}

	return nil
}

// ElapsedTime returns the current timer value
func (f *Felicita) ElapsedTime() time.Duration {
	if f.timer != nil {
		return f.timer.ElapsedTime()
	}

	return 0
}

////////////////////////////////////////////////////////////////////////////////

// protocol denotes the Felicita wire protocol. Data and commands share a
// single characteristic
type protocol struct {
	f *Felicita
}

func (p protocol) Name() string                  { return defaultDeviceName }
func (p protocol) Service() string               { return dataService }
func (p protocol) StatusCharacteristic() string  { return dataCharacteristic }
func (p protocol) CommandCharacteristic() string { return dataCharacteristic }

func (p protocol) Command(cmd scale.Command) ([]byte, bool) {
	switch cmd {
	case scale.CmdTare:
		return []byte{cmdTare}, true
	case scale.CmdStartTimer:
		return []byte{cmdStartTimer}, true
	case scale.CmdStopTimer:
		return []byte{cmdStopTimer}, true
	case scale.CmdResetTimer:
		return []byte{cmdResetTimer}, true
	}

	return nil, false
}

func (p protocol) Decode(frame []byte) (blescale.Reading, bool) {
	reading, ok := parseFrame(frame)
	if !ok {
		return reading, false
	}

	p.f.batteryLevel = frame[15]
	p.f.isBuzzingOnTouch = parseSignalFlag(frame[14])

	// Upon first data reception, check if the Buzzer is configured as expected and
	// attempt to force the setting if not (unless not configured)
	p.f.forceBuzzerSetting()
	p.f.hasReceivedData = true

	return reading, true
}

func (f *Felicita) forceBuzzerSetting() {
	if !f.hasReceivedData && f.forceBuzzerSettingOnConnect != "" {
		if f.isBuzzingOnTouch && f.forceBuzzerSettingOnConnect == BuzzerSettingOff ||
			!f.isBuzzingOnTouch && f.forceBuzzerSettingOnConnect == BuzzerSettingOn {
			if err := f.ToggleBuzzingOnTouch(); err != nil {
				return
			}
		}
	}
}

func parseFrame(frame []byte) (blescale.Reading, bool) {
	if len(frame) != frameLength {
		return blescale.Reading{}, false
	}

	weight, err := strconv.ParseFloat(strings.TrimSpace(string(frame[2:9])), 64)
	if err != nil {
		return blescale.Reading{}, false
	}

	return blescale.Reading{
		Weight: weight / 100.,
		Unit:   parseUnit(frame[9:11]),
	}, true
}

func parseUnit(data []byte) scale.Unit {
	if len(data) != 2 {
		return scale.UnitUnknown
	}

	if strings.Contains(strings.ToLower(string(data)), "g") {
		return scale.UnitGrams
	}
	if strings.Contains(strings.ToLower(string(data)), "oz") {
		return scale.UnitOz
	}

	return scale.UnitUnknown
}

func parseBatteryLevel(data byte) float64 {

	val := int(data)
	if val < minBatteryLevel {
		return 0.
	} else if val > maxBatteryLevel {
		return 1.
	}

	return math.Round((float64(val)-minBatteryLevel)/(maxBatteryLevel-minBatteryLevel)*100.) / 100.
}

func parseSignalFlag(data byte) bool {
	return data == 0x22
}
