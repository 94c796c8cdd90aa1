// Package machine provides the types exchanged with the brewing machine (its
// timer-tagged telemetry samples and the stop commands it accepts) and a
// simulator playing a profile without real hardware
package machine

import "errors"

// ErrNotRunning denotes a command issued while no shot is running
var ErrNotRunning = errors.New("no shot running")

// Sample denotes a single telemetry sample reported by the machine. Timer is the
// machine's own shot timer (in seconds) and is the sole source of shot time
type Sample struct {
	Timer       float64 `json:"timer"`
	Pressure    float64 `json:"pressure"`
	Flow        float64 `json:"flow"`
	Temperature float64 `json:"temperature"`

	PressureGoal    float64 `json:"pressure_goal"`
	FlowGoal        float64 `json:"flow_goal"`
	TemperatureGoal float64 `json:"temperature_goal"`

	// FrameNumber is the active profile frame, negative while preheating
	FrameNumber int  `json:"frame"`
	IsFlowMode  bool `json:"flow_mode"`
}

// IsPreheating returns if the sample was taken before the first brewing frame
func (s Sample) IsPreheating() bool {
	return s.FrameNumber < 0
}

// Controller denotes the commands a machine accepts from the stop logic
type Controller interface {

	// StopShot ends the running shot (target weight reached)
	StopShot() error

	// SkipToNextFrame advances the running shot to the next profile frame
	// (per-frame exit weight reached)
	SkipToNextFrame() error
}
