// Package profile provides the read-only view of a brewing profile used by the
// shot controller (frame setpoints and per-frame weight exits)
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Pump denotes the control mode of a frame
type Pump string

const (

	// PumpPressure denotes a pressure controlled frame
	PumpPressure Pump = "pressure"

	// PumpFlow denotes a flow controlled frame
	PumpFlow Pump = "flow"
)

// Frame denotes one segment of a profile with fixed setpoints
type Frame struct {
	Name        string  `json:"name" yaml:"name"`
	Pump        Pump    `json:"pump" yaml:"pump"`
	Pressure    float64 `json:"pressure" yaml:"pressure"`
	Flow        float64 `json:"flow" yaml:"flow"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Seconds     float64 `json:"seconds" yaml:"seconds"`

	// ExitWeight lets the frame end early once the weight is reached (0 = disabled)
	ExitWeight float64 `json:"exit_weight" yaml:"exit_weight"`
}

// IsFlowMode returns if the frame is flow controlled
func (f Frame) IsFlowMode() bool {
	return f.Pump == PumpFlow
}

// Profile denotes a brewing profile
type Profile struct {
	Title        string  `json:"title" yaml:"title"`
	TargetWeight float64 `json:"target_weight" yaml:"target_weight"`
	Frames       []Frame `json:"frames" yaml:"frames"`
}

// Frame returns the frame with the given index, if it exists
func (p *Profile) Frame(i int) (Frame, bool) {
	if p == nil || i < 0 || i >= len(p.Frames) {
		return Frame{}, false
	}
	return p.Frames[i], true
}

// Validate checks the profile for consistency
func (p *Profile) Validate() error {
	if len(p.Frames) == 0 {
		return errors.New("profile has no frames")
	}
	if p.TargetWeight < 0 {
		return fmt.Errorf("invalid target weight %.1f", p.TargetWeight)
	}
	for i, f := range p.Frames {
		if f.Pump != PumpPressure && f.Pump != PumpFlow {
			return fmt.Errorf("frame %d: invalid pump mode `%s`", i, f.Pump)
		}
		if f.Seconds <= 0 {
			return fmt.Errorf("frame %d: invalid duration %.1fs", i, f.Seconds)
		}
		if f.ExitWeight < 0 {
			return fmt.Errorf("frame %d: invalid exit weight %.1f", i, f.ExitWeight)
		}
	}

	return nil
}

// Load reads a profile from a YAML (.yaml / .yml) or JSON (comments allowed) file
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseYAML parses a YAML profile
func ParseYAML(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	return &p, p.Validate()
}

// ParseJSON parses a JSON profile, allowing comments and trailing commas
func ParseJSON(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	return &p, p.Validate()
}

// Default returns a basic pre-infusion / extraction / decline profile
func Default() *Profile {
	return &Profile{
		Title:        "Default",
		TargetWeight: 36,
		Frames: []Frame{
			{Name: "preinfusion", Pump: PumpFlow, Flow: 4, Pressure: 4, Temperature: 92, Seconds: 20, ExitWeight: 4},
			{Name: "extraction", Pump: PumpPressure, Pressure: 9, Flow: 2.5, Temperature: 92, Seconds: 25},
			{Name: "decline", Pump: PumpPressure, Pressure: 6, Flow: 2, Temperature: 90, Seconds: 15},
		},
	}
}
