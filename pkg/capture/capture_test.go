package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var testStart = time.Date(2024, 5, 1, 10, 11, 12, 345000000, time.UTC)

func TestCapture(t *testing.T) {
	c := clock.Fake(testStart)
	rec := New(c, zapcore.DebugLevel)
	logger := zap.New(rec).Sugar()

	logger.Info("before capture")
	assert.Empty(t, rec.Lines())
	assert.False(t, rec.IsCapturing())

	rec.Start()
	require.True(t, rec.IsCapturing())
	logger.Debugf("weight %.1f", 12.5)
	c.Advance(250 * time.Millisecond)
	logger.With("frame", 2).Warn("frame exit")
	rec.Stop()

	logger.Info("after capture")

	lines := rec.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "[10:11:12.345] START Shot capture started - 2024-05-01T10:11:12", lines[0])
	assert.Equal(t, "[10:11:12.345] DEBUG weight 12.5", lines[1])
	assert.Equal(t, `[10:11:12.595] WARN frame exit {"frame": 2}`, lines[2])
	assert.Equal(t, "[10:11:12.595] STOP Shot capture stopped", lines[3])
	assert.False(t, rec.IsCapturing())
}

func TestRestart(t *testing.T) {
	rec := New(clock.Fake(testStart), zapcore.InfoLevel)
	logger := zap.New(rec).Sugar()

	rec.Start()
	logger.Info("first shot")
	logger.Debug("filtered by level")
	require.Len(t, rec.Lines(), 2)

	rec.Start()
	lines := rec.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "START Shot capture restarted")
	assert.True(t, rec.IsCapturing())

	rec.Stop()
	rec.Stop()
	assert.Len(t, rec.Lines(), 2)

	rec.Clear()
	assert.Empty(t, rec.String())
}

func TestTee(t *testing.T) {
	rec := New(clock.Fake(testStart), zapcore.DebugLevel)
	other := New(clock.Fake(testStart), zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(rec, other)).Sugar()

	rec.Start()
	logger.Info("only captured once")

	assert.Len(t, rec.Lines(), 2)
	assert.Empty(t, other.Lines())
}

func TestConcurrentWrites(t *testing.T) {
	rec := New(nil, zapcore.DebugLevel)
	logger := zap.New(rec).Sugar()
	rec.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				logger.Debug("sample")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, rec.Lines(), 801)
}
