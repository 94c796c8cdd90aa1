// Package config loads the shotctl configuration from defaults, an optional
// YAML config file, a .env file, SHOTCTL_ prefixed environment variables and
// command line flags (in ascending order of precedence)
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/timing"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "SHOTCTL"
	configFileName = "shotctl"
)

// Supported weight device types
const (
	ScaleTypeBookoo   = "bookoo"
	ScaleTypeFelicita = "felicita"
	ScaleTypeFlow     = "flow"
)

// Config denotes the complete configuration
type Config struct {
	Scale    ScaleConfig `mapstructure:"scale"`
	Shot     ShotConfig  `mapstructure:"shot"`
	API      APIConfig   `mapstructure:"api"`
	Profile  string      `mapstructure:"profile"`
	Simulate bool        `mapstructure:"simulate"`
	Debug    bool        `mapstructure:"debug"`
}

// ScaleConfig denotes the weight device configuration
type ScaleConfig struct {
	Type string `mapstructure:"type"`
	Name string `mapstructure:"name"`
	ID   string `mapstructure:"id"`

	SubscribeDelay         time.Duration `mapstructure:"subscribe_delay"`
	WatchdogInterval       time.Duration `mapstructure:"watchdog_interval"`
	DiscoveryTimeout       time.Duration `mapstructure:"discovery_timeout"`
	MaxNotificationRetries int           `mapstructure:"max_notification_retries"`
}

// ShotConfig denotes the shot controller configuration
type ShotConfig struct {
	TargetWeight    float64       `mapstructure:"target_weight"`
	Retare          bool          `mapstructure:"retare"`
	TareTimeout     time.Duration `mapstructure:"tare_timeout"`
	TareThreshold   float64       `mapstructure:"tare_threshold"`
	StopLag         time.Duration `mapstructure:"stop_lag"`
	DisplayInterval time.Duration `mapstructure:"display_interval"`
}

// APIConfig denotes the control API configuration
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

var defaults = map[string]interface{}{
	"scale.type":                     ScaleTypeBookoo,
	"scale.name":                     "",
	"scale.id":                       "",
	"scale.subscribe_delay":          200 * time.Millisecond,
	"scale.watchdog_interval":        time.Second,
	"scale.discovery_timeout":        10 * time.Second,
	"scale.max_notification_retries": 3,
	"shot.target_weight":             36.,
	"shot.retare":                    true,
	"shot.tare_timeout":              2 * time.Second,
	"shot.tare_threshold":            0.5,
	"shot.stop_lag":                  time.Duration(0),
	"shot.display_interval":          50 * time.Millisecond,
	"profile":                        "",
	"api.listen":                     ":8080",
	"simulate":                       false,
	"debug":                          false,
}

// flag name -> config key
var flagKeys = map[string]string{
	"scale-type":    "scale.type",
	"scale-name":    "scale.name",
	"scale-id":      "scale.id",
	"target-weight": "shot.target_weight",
	"retare":        "shot.retare",
	"stop-lag":      "shot.stop_lag",
	"profile":       "profile",
	"listen":        "api.listen",
	"simulate":      "simulate",
	"debug":         "debug",
}

// Load registers the command line flags on fs, parses args and returns the
// resulting (validated) configuration
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	configPath := fs.StringP("config", "c", "", "Path to config file (default: ./shotctl.yaml, if present)")
	envPath := fs.String("env-file", ".env", "Path to .env file (ignored if not present)")
	fs.StringP("scale-type", "t", ScaleTypeBookoo, "Weight device type (bookoo, felicita, flow)")
	fs.StringP("scale-name", "n", "", "Advertised name of the scale (default: protocol default)")
	fs.String("scale-id", "", "Peripheral ID / MAC of the scale")
	fs.Float64P("target-weight", "w", 36, "Stop-at-weight target in grams (0 = disabled)")
	fs.Bool("retare", true, "Tare the scale upon shot start")
	fs.Duration("stop-lag", 0, "Flow compensation for the stop-at-weight check")
	fs.StringP("profile", "p", "", "Path to brewing profile (.yaml / .json)")
	fs.StringP("listen", "l", ":8080", "Listen address of the control API")
	fs.Bool("simulate", false, "Simulate the brewing machine")
	fs.BoolP("debug", "d", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag `%s`: %w", name, err)
		}
	}

	if err := readConfigFile(v, *configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, cfg.Validate()
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Scale.Type {
	case ScaleTypeBookoo, ScaleTypeFelicita, ScaleTypeFlow:
	default:
		return fmt.Errorf("unsupported scale type `%s`", c.Scale.Type)
	}

	for name, d := range map[string]time.Duration{
		"scale.subscribe_delay":   c.Scale.SubscribeDelay,
		"scale.watchdog_interval": c.Scale.WatchdogInterval,
		"scale.discovery_timeout": c.Scale.DiscoveryTimeout,
		"shot.tare_timeout":       c.Shot.TareTimeout,
		"shot.display_interval":   c.Shot.DisplayInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got %v)", name, d)
		}
	}

	if c.Scale.MaxNotificationRetries < 0 {
		return fmt.Errorf("invalid number of notification retries: %d", c.Scale.MaxNotificationRetries)
	}
	if c.Shot.TargetWeight < 0 {
		return fmt.Errorf("invalid target weight: %.1f", c.Shot.TargetWeight)
	}
	if c.Shot.TareThreshold < 0 {
		return fmt.Errorf("invalid tare threshold: %.2f", c.Shot.TareThreshold)
	}
	if c.Shot.StopLag < 0 {
		return fmt.Errorf("invalid stop lag: %v", c.Shot.StopLag)
	}

	return nil
}

// Settings returns the shot controller settings
func (c *Config) Settings() timing.Settings {
	return timing.Settings{
		TargetWeight:    c.Shot.TargetWeight,
		Retare:          c.Shot.Retare,
		TareTimeout:     c.Shot.TareTimeout,
		TareThreshold:   c.Shot.TareThreshold,
		StopLag:         c.Shot.StopLag,
		DisplayInterval: c.Shot.DisplayInterval,
	}
}

// ScaleOptions returns the options of the device connection state machine
func (c *Config) ScaleOptions() []blescale.Option {
	return []blescale.Option{
		blescale.WithSubscribeDelay(c.Scale.SubscribeDelay),
		blescale.WithWatchdogInterval(c.Scale.WatchdogInterval),
		blescale.WithDiscoveryTimeout(c.Scale.DiscoveryTimeout),
		blescale.WithMaxNotificationRetries(c.Scale.MaxNotificationRetries),
	}
}

////////////////////////////////////////////////////////////////////////////////

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}
