// Package capture provides a scoped log sink recording the log output of a
// single shot. The Recorder is a zapcore.Core and is tee'd into the logger at
// construction; it only retains entries between Start() and Stop()
package capture

import (
	"strings"
	"sync"

	"github.com/fako1024/shotctl/pkg/clock"
	"go.uber.org/zap/zapcore"
)

const timeFormat = "15:04:05.000"

// Recorder denotes a log sink capturing entries while a shot is running
type Recorder struct {
	zapcore.LevelEnabler

	enc   zapcore.Encoder
	clock clock.Clock
	log   *shotLog
}

type shotLog struct {
	sync.Mutex

	capturing bool
	lines     []string
}

// New instantiates a new (idle) recorder retaining entries at or above the given level
func New(c clock.Clock, level zapcore.LevelEnabler) *Recorder {
	if c == nil {
		c = clock.Real()
	}

	return &Recorder{
		LevelEnabler: level,
		enc: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			LevelKey:         "level",
			MessageKey:       "msg",
			EncodeLevel:      zapcore.CapitalLevelEncoder,
			EncodeDuration:   zapcore.StringDurationEncoder,
			ConsoleSeparator: " ",
		}),
		clock: c,
		log:   &shotLog{},
	}
}

// Start begins a new capture. If a capture is already running it is restarted,
// discarding previously captured lines
func (r *Recorder) Start() {
	r.log.Lock()
	defer r.log.Unlock()

	r.log.lines = r.log.lines[:0]
	if r.log.capturing {
		r.appendLocked("START Shot capture restarted - " + r.clock.Now().Format("2006-01-02T15:04:05"))
		return
	}

	r.log.capturing = true
	r.appendLocked("START Shot capture started - " + r.clock.Now().Format("2006-01-02T15:04:05"))
}

// Stop ends the current capture, keeping the captured lines
func (r *Recorder) Stop() {
	r.log.Lock()
	defer r.log.Unlock()

	if !r.log.capturing {
		return
	}
	r.appendLocked("STOP Shot capture stopped")
	r.log.capturing = false
}

// IsCapturing returns if a capture is running
func (r *Recorder) IsCapturing() bool {
	r.log.Lock()
	defer r.log.Unlock()

	return r.log.capturing
}

// Lines returns a copy of the captured lines
func (r *Recorder) Lines() []string {
	r.log.Lock()
	defer r.log.Unlock()

	lines := make([]string, len(r.log.lines))
	copy(lines, r.log.lines)

	return lines
}

// String returns the captured log as newline separated text
func (r *Recorder) String() string {
	return strings.Join(r.Lines(), "\n")
}

// Clear discards all captured lines
func (r *Recorder) Clear() {
	r.log.Lock()
	defer r.log.Unlock()

	r.log.lines = nil
}

// With adds structured context to the core
func (r *Recorder) With(fields []zapcore.Field) zapcore.Core {
	enc := r.enc.Clone()
	for _, field := range fields {
		field.AddTo(enc)
	}

	return &Recorder{
		LevelEnabler: r.LevelEnabler,
		enc:          enc,
		clock:        r.clock,
		log:          r.log,
	}
}

// Check determines whether the supplied entry should be logged
func (r *Recorder) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if r.Enabled(ent.Level) && r.IsCapturing() {
		return ce.AddCore(ent, r)
	}
	return ce
}

// Write records an entry if a capture is running
func (r *Recorder) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := r.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()

	r.log.Lock()
	defer r.log.Unlock()

	if r.log.capturing {
		r.appendLocked(line)
	}

	return nil
}

// Sync is a no-op, lines are kept in memory
func (r *Recorder) Sync() error {
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (r *Recorder) appendLocked(line string) {
	r.log.lines = append(r.log.lines, "["+r.clock.Now().Format(timeFormat)+"] "+line)
}
