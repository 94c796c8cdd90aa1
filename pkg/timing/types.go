package timing

import (
	"time"

	"github.com/fako1024/shotctl/pkg/scale"
)

// TareState denotes the state of the tare sub-state machine
type TareState int

const (

	// TareIdle denotes that no tare was issued since construction / reset
	TareIdle TareState = iota

	// TarePending denotes an issued tare awaiting confirmation
	TarePending

	// TareComplete denotes a confirmed (or timed out) tare
	TareComplete
)

var tareStateNames = []string{"idle", "pending", "complete"}

// String returns a human-readable representation of the tare state
func (t TareState) String() string {
	if int(t) < 0 || int(t) >= len(tareStateNames) {
		return "unknown"
	}
	return tareStateNames[t]
}

// ShotState denotes the shot lifecycle
type ShotState int

const (

	// ShotIdle denotes that no shot was started yet
	ShotIdle ShotState = iota

	// ShotActive denotes a running shot
	ShotActive

	// ShotEnded denotes a finished shot, its readings are frozen
	ShotEnded
)

var shotStateNames = []string{"idle", "active", "ended"}

// String returns a human-readable representation of the shot state
func (s ShotState) String() string {
	if int(s) < 0 || int(s) >= len(shotStateNames) {
		return "unknown"
	}
	return shotStateNames[s]
}

// Change denotes the kind of state mutation announced to a change handler
type Change int

const (
	ChangeShotTime Change = iota
	ChangeDisplayTime
	ChangeWeight
	ChangeTareState
	ChangeShotState
	ChangeScaleHealth
)

// Settings denotes the externally owned shot settings
type Settings struct {

	// TargetWeight triggers the stop-at-weight signal (0 = disabled)
	TargetWeight float64

	// Retare issues a tare on every shot start
	Retare bool

	// TareTimeout bounds the wait for a tare confirmation
	TareTimeout time.Duration

	// TareThreshold is the maximum absolute weight confirming a tare
	TareThreshold float64

	// StopLag compensates for the liquid still dripping once the stop command
	// was issued: the projected weight (weight + flow * lag) is compared
	StopLag time.Duration

	// DisplayInterval is the period of the display-only time ticker
	DisplayInterval time.Duration
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	return Settings{
		Retare:          true,
		TareTimeout:     2 * time.Second,
		TareThreshold:   0.5,
		DisplayInterval: 50 * time.Millisecond,
	}
}

// Sample denotes a unified sample, i.e. machine telemetry bound to shot time
type Sample struct {
	Time        float64 `json:"time"`
	Pressure    float64 `json:"pressure"`
	Flow        float64 `json:"flow"`
	Temperature float64 `json:"temperature"`

	PressureGoal    float64 `json:"pressure_goal"`
	FlowGoal        float64 `json:"flow_goal"`
	TemperatureGoal float64 `json:"temperature_goal"`

	FrameNumber int  `json:"frame"`
	IsFlowMode  bool `json:"flow_mode"`
}

// WeightSample denotes a weight reading bound to shot time
type WeightSample struct {
	Time     float64 `json:"time"`
	Weight   float64 `json:"weight"`
	FlowRate float64 `json:"flow_rate"`
}

// Snapshot denotes a plain copy of the controller state
type Snapshot struct {
	ShotID    string `json:"shot_id,omitempty"`
	ShotState string `json:"shot_state"`
	TareState string `json:"tare_state"`

	TareTimedOut bool `json:"tare_timed_out"`

	ShotTime    float64 `json:"shot_time"`
	DisplayTime float64 `json:"display_time"`

	Weight       float64 `json:"weight"`
	FlowRate     float64 `json:"flow_rate"`
	TargetWeight float64 `json:"target_weight"`

	Frame             int  `json:"frame"`
	ExtractionStarted bool `json:"extraction_started"`
	StopAtWeightFired bool `json:"stop_at_weight_fired"`
	FrameExitFired    int  `json:"frame_exit_fired"`

	ScaleState    scale.ConnectionState `json:"-"`
	ScaleStatus   string                `json:"scale_state"`
	ScaleError    string                `json:"scale_error,omitempty"`
	ScaleDegraded bool                  `json:"scale_degraded"`
}
