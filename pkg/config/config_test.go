package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	return Load(pflag.NewFlagSet(t.Name(), pflag.ContinueOnError), args)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, ScaleTypeBookoo, cfg.Scale.Type)
	assert.Equal(t, 200*time.Millisecond, cfg.Scale.SubscribeDelay)
	assert.Equal(t, time.Second, cfg.Scale.WatchdogInterval)
	assert.Equal(t, 10*time.Second, cfg.Scale.DiscoveryTimeout)
	assert.Equal(t, 3, cfg.Scale.MaxNotificationRetries)
	assert.Equal(t, 36., cfg.Shot.TargetWeight)
	assert.True(t, cfg.Shot.Retare)
	assert.Equal(t, 2*time.Second, cfg.Shot.TareTimeout)
	assert.Equal(t, 0.5, cfg.Shot.TareThreshold)
	assert.Zero(t, cfg.Shot.StopLag)
	assert.Equal(t, 50*time.Millisecond, cfg.Shot.DisplayInterval)
	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.False(t, cfg.Simulate)
	assert.False(t, cfg.Debug)

	settings := cfg.Settings()
	assert.Equal(t, 36., settings.TargetWeight)
	assert.Equal(t, 2*time.Second, settings.TareTimeout)
	assert.Len(t, cfg.ScaleOptions(), 4)
}

func TestPrecedence(t *testing.T) {
	configPath := writeFile(t, "shotctl.yaml", `
scale:
  type: felicita
  watchdog_interval: 2s
shot:
  target_weight: 40
  tare_timeout: 3s
api:
  listen: ":9000"
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := load(t, "--config", configPath)
		require.NoError(t, err)
		assert.Equal(t, ScaleTypeFelicita, cfg.Scale.Type)
		assert.Equal(t, 2*time.Second, cfg.Scale.WatchdogInterval)
		assert.Equal(t, 40., cfg.Shot.TargetWeight)
		assert.Equal(t, 3*time.Second, cfg.Shot.TareTimeout)
		assert.Equal(t, ":9000", cfg.API.Listen)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("SHOTCTL_SHOT_TARGET_WEIGHT", "42")
		t.Setenv("SHOTCTL_SHOT_RETARE", "false")
		t.Setenv("SHOTCTL_SCALE_SUBSCRIBE_DELAY", "350ms")

		cfg, err := load(t, "--config", configPath)
		require.NoError(t, err)
		assert.Equal(t, 42., cfg.Shot.TargetWeight)
		assert.False(t, cfg.Shot.Retare)
		assert.Equal(t, 350*time.Millisecond, cfg.Scale.SubscribeDelay)
		assert.Equal(t, ScaleTypeFelicita, cfg.Scale.Type)
	})

	t.Run("flags", func(t *testing.T) {
		t.Setenv("SHOTCTL_SHOT_TARGET_WEIGHT", "42")

		cfg, err := load(t, "--config", configPath, "-w", "44", "--scale-type", "flow", "--simulate", "--listen", "127.0.0.1:8081")
		require.NoError(t, err)
		assert.Equal(t, 44., cfg.Shot.TargetWeight)
		assert.Equal(t, ScaleTypeFlow, cfg.Scale.Type)
		assert.True(t, cfg.Simulate)
		assert.Equal(t, "127.0.0.1:8081", cfg.API.Listen)
	})
}

func TestEnvFile(t *testing.T) {
	envPath := writeFile(t, "test.env", "SHOTCTL_SCALE_ID=AA:BB:CC:DD:EE:FF\n")
	t.Cleanup(func() { os.Unsetenv("SHOTCTL_SCALE_ID") })

	cfg, err := load(t, "--env-file", envPath)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Scale.ID)
}

func TestInvalid(t *testing.T) {
	_, err := load(t, "--scale-type", "acaia")
	require.Error(t, err)

	_, err = load(t, "--target-weight", "-1")
	require.Error(t, err)

	_, err = load(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = load(t, "--unknown-flag")
	require.Error(t, err)

	t.Setenv("SHOTCTL_SHOT_TARE_TIMEOUT", "0s")
	_, err = load(t)
	require.Error(t, err)
}
