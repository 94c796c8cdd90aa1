package timing

import (
	"testing"
	"time"

	"github.com/fako1024/shotctl/pkg/capture"
	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/flowscale"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/machine"
	"github.com/fako1024/shotctl/pkg/mock"
	"github.com/fako1024/shotctl/pkg/profile"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fixture struct {
	clock *clock.FakeClock
	ctrl  *Controller
	dev   *mock.Scale

	samples    []Sample
	weights    []WeightSample
	stops      int
	frameExits []int
	changes    []Change
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.TargetWeight = 36
	return settings
}

func newFixture(t *testing.T, settings Settings, options ...Option) *fixture {
	t.Helper()

	f := &fixture{
		clock: clock.Fake(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)),
		dev:   mock.NewScale(),
	}
	f.dev.ZeroOnTare = true

	f.ctrl = New(append([]Option{
		WithClock(f.clock),
		WithExecutor(loop.Inline{}),
		WithSettings(settings),
	}, options...)...)
	f.ctrl.SetScale(f.dev)
	f.ctrl.SetProfile(profile.Default())

	f.dev.SetDataHandler(func(d scale.DataPoint) { f.ctrl.OnWeightSample(d.Weight, d.FlowRate) })
	f.ctrl.SetSampleHandler(func(s Sample) { f.samples = append(f.samples, s) })
	f.ctrl.SetWeightSampleHandler(func(w WeightSample) { f.weights = append(f.weights, w) })
	f.ctrl.SetStopAtWeightHandler(func() { f.stops++ })
	f.ctrl.SetPerFrameWeightHandler(func(frame int) { f.frameExits = append(f.frameExits, frame) })
	f.ctrl.SetChangeHandler(func(c Change) { f.changes = append(f.changes, c) })

	return f
}

func (f *fixture) sample(timer float64, frame int) {
	f.ctrl.OnShotSample(machine.Sample{
		Timer:       timer,
		Pressure:    9,
		Flow:        2,
		Temperature: 92,
		FrameNumber: frame,
	})
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "pending", TarePending.String())
	assert.Equal(t, "ended", ShotEnded.String())
	assert.Equal(t, "unknown", TareState(17).String())
	assert.Equal(t, "unknown", ShotState(-1).String())
}

func TestInitialState(t *testing.T) {
	ctrl := New()
	assert.Equal(t, TareIdle, ctrl.TareState())
	assert.Equal(t, ShotIdle, ctrl.ShotState())
	assert.Equal(t, -1, ctrl.CurrentFrame())
	assert.Zero(t, ctrl.TargetWeight())

	// Without a device a tare completes immediately
	ctrl.Tare()
	assert.True(t, ctrl.IsTareComplete())

	// Samples outside of a shot are ignored
	ctrl.OnShotSample(machine.Sample{Timer: 3, FrameNumber: 0})
	assert.Zero(t, ctrl.ShotTime())
}

func TestMonotonicShotTime(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()

	for _, timer := range []float64{5.0, 5.2, 5.1, 5.4, 5.4, 6.0} {
		f.sample(timer, 0)
	}

	require.Len(t, f.samples, 6)
	for i := 1; i < len(f.samples); i++ {
		assert.GreaterOrEqual(t, f.samples[i].Time, f.samples[i-1].Time)
	}
	assert.InDelta(t, 0.0, f.samples[0].Time, 1e-9)
	assert.InDelta(t, 0.2, f.samples[2].Time, 1e-9)
	assert.InDelta(t, 1.0, f.ctrl.ShotTime(), 1e-9)
}

func TestPreheatSamples(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()

	f.sample(3.0, -1)
	f.sample(7.0, -1)
	assert.Empty(t, f.samples)
	assert.Zero(t, f.ctrl.ShotTime())
	assert.False(t, f.ctrl.Snapshot().ExtractionStarted)

	f.sample(12.0, 0)
	f.sample(12.5, 0)
	require.Len(t, f.samples, 2)
	assert.Zero(t, f.samples[0].Time)
	assert.InDelta(t, 0.5, f.samples[1].Time, 1e-9)
	assert.Equal(t, 0, f.ctrl.CurrentFrame())
}

func TestWeightBeforeMachineSample(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()

	f.dev.Push(1.5, 0.2)
	require.NotEmpty(t, f.weights)
	last := f.weights[len(f.weights)-1]
	assert.Zero(t, last.Time)
	assert.Equal(t, 1.5, last.Weight)

	f.sample(2.0, 0)
	f.sample(3.5, 0)
	f.dev.Push(2.5, 0.8)

	last = f.weights[len(f.weights)-1]
	assert.InDelta(t, 1.5, last.Time, 1e-9)
	assert.Equal(t, 2.5, f.ctrl.Weight())
	assert.Equal(t, 0.8, f.ctrl.FlowRate())
}

func TestStopAtWeightFiresOnce(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()
	require.True(t, f.ctrl.IsTareComplete())
	f.sample(0, 0)

	for w := 30.0; w <= 45; w += 0.5 {
		f.dev.Push(w, 2)
	}
	assert.Equal(t, 1, f.stops)
	assert.True(t, f.ctrl.Snapshot().StopAtWeightFired)

	// A new shot clears the latch
	f.ctrl.EndShot()
	f.ctrl.StartShot()
	f.dev.Push(40, 2)
	assert.Equal(t, 2, f.stops)
}

func TestStopAtWeightDisabled(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.SetTargetWeight(-5)
	assert.Zero(t, f.ctrl.TargetWeight())

	f.ctrl.StartShot()
	f.dev.Push(100, 0)
	assert.Zero(t, f.stops)
}

func TestStopLag(t *testing.T) {
	settings := testSettings()
	settings.StopLag = time.Second
	f := newFixture(t, settings)
	f.ctrl.StartShot()

	f.dev.Push(33, 2.5)
	assert.Zero(t, f.stops)
	f.dev.Push(34, 2.5)
	assert.Equal(t, 1, f.stops)
}

func TestNoStopBeforeTareComplete(t *testing.T) {
	f := newFixture(t, testSettings())
	f.dev.ZeroOnTare = false

	f.ctrl.StartShot()
	require.Equal(t, TarePending, f.ctrl.TareState())
	f.sample(0, 0)

	f.dev.Push(20, 2)
	f.dev.Push(40, 2)
	assert.Zero(t, f.stops)
	assert.Empty(t, f.frameExits)
	assert.Equal(t, TarePending, f.ctrl.TareState())

	// Unconfirmed tares resolve by timeout
	f.clock.Advance(2 * time.Second)
	assert.Equal(t, TareComplete, f.ctrl.TareState())
	assert.True(t, f.ctrl.TareTimedOut())
	assert.Equal(t, 1, f.stops)
}

func TestTareConfirmation(t *testing.T) {
	f := newFixture(t, testSettings())
	f.dev.ZeroOnTare = false

	f.ctrl.Tare()
	assert.Equal(t, TarePending, f.ctrl.TareState())
	assert.Equal(t, 1, f.dev.TareCount())

	f.dev.Push(3, 0)
	assert.Equal(t, TarePending, f.ctrl.TareState())

	f.dev.Push(-0.3, 0)
	assert.Equal(t, TareComplete, f.ctrl.TareState())
	assert.False(t, f.ctrl.TareTimedOut())

	// The timeout was cancelled
	f.clock.Advance(5 * time.Second)
	assert.False(t, f.ctrl.TareTimedOut())
	assert.Zero(t, f.clock.PendingCount())

	// Tare can be issued repeatedly
	f.ctrl.Tare()
	f.ctrl.Tare()
	assert.Equal(t, 3, f.dev.TareCount())
	assert.Equal(t, 1, f.clock.PendingCount())
}

func TestTareErrorResolvesByTimeout(t *testing.T) {
	f := newFixture(t, testSettings())
	f.dev.TareErr = scale.ErrNotConnected

	f.ctrl.Tare()
	assert.Equal(t, TarePending, f.ctrl.TareState())

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, TareComplete, f.ctrl.TareState())
	assert.True(t, f.ctrl.TareTimedOut())
}

func TestRetare(t *testing.T) {
	f := newFixture(t, testSettings())
	f.dev.ZeroOnTare = false

	f.ctrl.Tare()
	f.dev.Push(0, 0)
	require.Equal(t, TareComplete, f.ctrl.TareState())

	f.ctrl.StartShot()
	assert.Equal(t, TarePending, f.ctrl.TareState())
	assert.Equal(t, 2, f.dev.TareCount())

	settings := testSettings()
	settings.Retare = false
	f = newFixture(t, settings)
	f.ctrl.Tare()
	require.Equal(t, TareComplete, f.ctrl.TareState())
	f.ctrl.StartShot()
	assert.Equal(t, TareComplete, f.ctrl.TareState())
	assert.Equal(t, 1, f.dev.TareCount())
}

func TestPerFrameWeight(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.SetTargetWeight(0)
	f.ctrl.SetProfile(&profile.Profile{
		Frames: []profile.Frame{
			{Pump: profile.PumpFlow, Seconds: 10, ExitWeight: 4},
			{Pump: profile.PumpPressure, Seconds: 10},
			{Pump: profile.PumpPressure, Seconds: 10, ExitWeight: 20},
			{Pump: profile.PumpPressure, Seconds: 10, ExitWeight: 10},
		},
	})
	f.ctrl.StartShot()

	// Not eligible before extraction started
	f.dev.Push(5, 1)
	assert.Empty(t, f.frameExits)

	f.sample(0, 0)
	assert.Equal(t, []int{0}, f.frameExits)
	f.dev.Push(6, 1)
	f.dev.Push(7, 1)
	assert.Equal(t, []int{0}, f.frameExits)

	// Frame 1 has no exit weight
	f.sample(1, 1)
	f.dev.Push(15, 1)
	assert.Equal(t, []int{0}, f.frameExits)

	// Frame index never goes backwards
	f.sample(1.2, 0)
	assert.Equal(t, 1, f.ctrl.CurrentFrame())
	assert.Equal(t, 1, f.samples[len(f.samples)-1].FrameNumber)

	f.sample(2, 2)
	f.dev.Push(19, 1)
	assert.Equal(t, []int{0}, f.frameExits)
	f.dev.Push(21, 1)
	f.dev.Push(22, 1)
	assert.Equal(t, []int{0, 2}, f.frameExits)

	// Weight already beyond the exit when the frame starts
	f.sample(3, 3)
	assert.Equal(t, []int{0, 2, 3}, f.frameExits)
	f.sample(3.2, 3)
	assert.Equal(t, []int{0, 2, 3}, f.frameExits)
}

func TestEndShotFreezesState(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()
	f.sample(10, 0)
	f.sample(12, 0)
	f.dev.Push(20, 2)
	require.NotZero(t, f.clock.PendingCount())

	f.ctrl.EndShot()
	assert.Equal(t, ShotEnded, f.ctrl.ShotState())
	assert.Zero(t, f.clock.PendingCount())
	assert.InDelta(t, 2.0, f.ctrl.DisplayTime(), 1e-9)

	nSamples, nWeights := len(f.samples), len(f.weights)
	f.sample(15, 1)
	f.dev.Push(40, 2)
	f.clock.Advance(time.Minute)

	assert.InDelta(t, 2.0, f.ctrl.ShotTime(), 1e-9)
	assert.InDelta(t, 20, f.ctrl.Weight(), 1e-9)
	assert.InDelta(t, 2, f.ctrl.FlowRate(), 1e-9)
	assert.InDelta(t, 20, f.ctrl.Snapshot().Weight, 1e-9)
	assert.InDelta(t, 40, f.dev.Weight(), 1e-9)
	assert.Equal(t, 0, f.ctrl.CurrentFrame())
	assert.Len(t, f.samples, nSamples)
	assert.Len(t, f.weights, nWeights)
	assert.Zero(t, f.stops)

	// Ending twice is a no-op
	f.ctrl.EndShot()
	assert.Equal(t, ShotEnded, f.ctrl.ShotState())
}

func TestDisplayTime(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()

	// No display time before extraction started
	f.clock.Advance(200 * time.Millisecond)
	assert.Zero(t, f.ctrl.DisplayTime())

	f.sample(4.0, 0)
	f.clock.Advance(200 * time.Millisecond)
	assert.InDelta(t, 0.2, f.ctrl.DisplayTime(), 1e-6)

	// A lagging machine sample never moves the display backwards
	f.sample(4.1, 0)
	f.clock.Advance(50 * time.Millisecond)
	assert.InDelta(t, 0.2, f.ctrl.DisplayTime(), 1e-6)
	assert.InDelta(t, 0.1, f.ctrl.ShotTime(), 1e-9)

	// Extrapolation is capped
	f.clock.Advance(5 * time.Second)
	assert.InDelta(t, 1.1, f.ctrl.DisplayTime(), 1e-6)

	// The display ticker never drives the shot time
	assert.InDelta(t, 0.1, f.ctrl.ShotTime(), 1e-9)
	assert.Contains(t, f.changes, ChangeDisplayTime)
}

func TestScaleFailureDoesNotAbortShot(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()
	f.sample(1, 0)

	f.dev.SetStatus(scale.StateFailed, scale.ErrLinkLost)
	f.ctrl.OnScaleStatus(f.dev.ConnectionStatus())

	snap := f.ctrl.Snapshot()
	assert.True(t, snap.ScaleDegraded)
	assert.Equal(t, "failed", snap.ScaleStatus)
	assert.Equal(t, scale.ErrLinkLost.Error(), snap.ScaleError)
	assert.Equal(t, ShotActive, f.ctrl.ShotState())

	f.sample(3, 0)
	assert.InDelta(t, 2.0, f.ctrl.ShotTime(), 1e-9)

	f.ctrl.OnScaleStatus(scale.ConnectionStatus{State: scale.StateConnected})
	assert.False(t, f.ctrl.Snapshot().ScaleDegraded)
	assert.Contains(t, f.changes, ChangeScaleHealth)
}

func TestFlowScaleIntegration(t *testing.T) {
	f := newFixture(t, testSettings())
	fs := flowscale.New(flowscale.WithClock(f.clock))
	fs.SetDataHandler(func(d scale.DataPoint) { f.ctrl.OnWeightSample(d.Weight, d.FlowRate) })
	f.ctrl.SetScale(fs)

	fs.AddFlowSample(5, 0.5)
	require.NotZero(t, fs.Weight())

	f.ctrl.StartShot()
	assert.Zero(t, fs.Weight())
	assert.Equal(t, TareComplete, f.ctrl.TareState())

	// Preheat does not integrate
	f.sample(0, -1)
	for i := 0; i <= 5; i++ {
		f.sample(float64(i)*0.2, 0)
	}
	assert.InDelta(t, 2.0, fs.Weight(), 1e-9)
	assert.InDelta(t, 2.0, f.ctrl.Weight(), 1e-9)

	// Stalled machine timer is rejected by the integrator
	f.sample(3.0, 0)
	assert.InDelta(t, 2.0, fs.Weight(), 1e-9)
}

func TestShotCapture(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	rec := capture.New(c, zapcore.DebugLevel)
	f := newFixture(t, testSettings(), WithCapture(rec))

	f.ctrl.StartShot()
	assert.True(t, rec.IsCapturing())
	f.ctrl.EndShot()
	assert.False(t, rec.IsCapturing())

	f.ctrl.StartShot()
	f.ctrl.Reset()
	assert.False(t, rec.IsCapturing())
}

func TestShotIDAndReset(t *testing.T) {
	f := newFixture(t, testSettings())

	f.ctrl.StartShot()
	first := f.ctrl.ShotID()
	_, err := uuid.Parse(first)
	require.NoError(t, err)

	f.ctrl.EndShot()
	f.ctrl.StartShot()
	assert.NotEqual(t, first, f.ctrl.ShotID())
	assert.Contains(t, f.changes, ChangeShotState)
	assert.Contains(t, f.changes, ChangeTareState)

	f.sample(1, 0)
	f.ctrl.Reset()
	assert.Equal(t, TareIdle, f.ctrl.TareState())
	assert.Equal(t, ShotIdle, f.ctrl.ShotState())
	assert.Zero(t, f.ctrl.ShotTime())
	assert.Equal(t, -1, f.ctrl.CurrentFrame())
	assert.Zero(t, f.clock.PendingCount())

	f.ctrl.StartShot()
	f.ctrl.Close()
	assert.Zero(t, f.clock.PendingCount())
}

func TestExtractionStartsOnFirstNonPreheatFrame(t *testing.T) {
	f := newFixture(t, testSettings())
	f.ctrl.StartShot()

	f.sample(4, -1)
	assert.False(t, f.ctrl.Snapshot().ExtractionStarted)

	// Frame 0 is never reported, the first frame >= 0 sets the timer base
	f.sample(5, 1)
	assert.True(t, f.ctrl.Snapshot().ExtractionStarted)
	assert.Zero(t, f.ctrl.ShotTime())
	assert.Equal(t, 1, f.ctrl.CurrentFrame())

	f.sample(6.5, 1)
	assert.InDelta(t, 1.5, f.ctrl.ShotTime(), 1e-9)
}
