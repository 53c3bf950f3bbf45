package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/smazurov/capturewatch/internal/logging"
)

// DefaultConfigPath is used when CAPTUREWATCH_CONFIG is unset.
const DefaultConfigPath = "/etc/capturewatch/config.toml"

// Options holds every tunable of the watchdog. None of them are command
// line flags; they come from the TOML file and CAPTUREWATCH_* env vars.
type Options struct {
	Config string

	DevicePath           string `toml:"device.path" env:"DEVICE_PATH"`
	DeviceProbeCommand   string `toml:"device.probe_command" env:"DEVICE_PROBE_COMMAND"`
	DeviceProbeTimeoutMs int    `toml:"device.probe_timeout_ms" env:"DEVICE_PROBE_TIMEOUT_MS"`

	ConsumerToken       string `toml:"consumer.token" env:"CONSUMER_TOKEN"`
	ConsumerSystemdUnit string `toml:"consumer.systemd_unit" env:"CONSUMER_SYSTEMD_UNIT"`
	ConsumerAPIURL      string `toml:"consumer.api_url" env:"CONSUMER_API_URL"`

	PipelineCommand        string   `toml:"pipeline.command" env:"PIPELINE_COMMAND"`
	PipelineSweepTokens    []string `toml:"pipeline.sweep_tokens" env:"PIPELINE_SWEEP_TOKENS"`
	PipelineDrainTimeoutMs int      `toml:"pipeline.drain_timeout_ms" env:"PIPELINE_DRAIN_TIMEOUT_MS"`
	PipelineKillTimeoutMs  int      `toml:"pipeline.kill_timeout_ms" env:"PIPELINE_KILL_TIMEOUT_MS"`

	WatchIntervalMs int `toml:"watch.interval_ms" env:"WATCH_INTERVAL_MS"`

	MetricsListen  string `toml:"metrics.listen" env:"METRICS_LISTEN"`
	MetricsMPPPath string `toml:"metrics.mpp_path" env:"METRICS_MPP_PATH"`

	FeaturesLEDControl bool `toml:"features.led_control" env:"FEATURES_LED_CONTROL"`

	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// DefaultOptions returns the built-in defaults for the RK3566 capture board.
func DefaultOptions() Options {
	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}
	return Options{
		Config:                 path,
		DevicePath:             "/dev/v4l-subdev3",
		DeviceProbeCommand:     "v4l2-ctl",
		DeviceProbeTimeoutMs:   3000,
		ConsumerToken:          "mediamtx",
		PipelineCommand:        "python3 ./lib/rk3566/push.py",
		PipelineSweepTokens:    []string{"gst-launch", "push.py"},
		PipelineDrainTimeoutMs: 1000,
		PipelineKillTimeoutMs:  2000,
		WatchIntervalMs:        2000,
		MetricsMPPPath:         "/proc/mpp_service/load",
		LoggingLevel:           "info",
		LoggingFormat:          "text",
	}
}

// Load reads path over the defaults. It is the loader used on startup and
// by the config watcher.
func Load(path string) (Options, error) {
	opts := DefaultOptions()
	opts.Config = path
	if err := LoadConfig(&opts, nil); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// Validate rejects values the watchdog cannot run with.
func (o Options) Validate() error {
	var errs []error
	if o.DevicePath == "" {
		errs = append(errs, errors.New("device.path is required"))
	}
	if o.DeviceProbeCommand == "" {
		errs = append(errs, errors.New("device.probe_command is required"))
	}
	if o.ConsumerToken == "" && o.ConsumerSystemdUnit == "" && o.ConsumerAPIURL == "" {
		errs = append(errs, errors.New("one of consumer.token, consumer.systemd_unit or consumer.api_url is required"))
	}
	if o.PipelineCommand == "" {
		errs = append(errs, errors.New("pipeline.command is required"))
	}
	if !slices.ContainsFunc(o.PipelineSweepTokens, func(t string) bool { return strings.TrimSpace(t) != "" }) {
		errs = append(errs, errors.New("pipeline.sweep_tokens needs at least one non-blank token"))
	}
	for _, d := range []struct {
		name string
		ms   int
	}{
		{"device.probe_timeout_ms", o.DeviceProbeTimeoutMs},
		{"pipeline.drain_timeout_ms", o.PipelineDrainTimeoutMs},
		{"pipeline.kill_timeout_ms", o.PipelineKillTimeoutMs},
		{"watch.interval_ms", o.WatchIntervalMs},
	} {
		if d.ms <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", d.name, d.ms))
		}
	}
	return errors.Join(errs...)
}

// Durations derived from the millisecond options.
func (o Options) ProbeTimeout() time.Duration { return millis(o.DeviceProbeTimeoutMs) }
func (o Options) DrainTimeout() time.Duration { return millis(o.PipelineDrainTimeoutMs) }
func (o Options) KillTimeout() time.Duration { return millis(o.PipelineKillTimeoutMs) }
func (o Options) WatchInterval() time.Duration { return millis(o.WatchIntervalMs) }

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Logging returns the logging configuration: global level and format from
// the options, per-module levels from the [logging] table of the file.
func (o Options) Logging() logging.Config {
	cfg := LoadLoggingConfig(o.Config)
	cfg.Level = o.LoggingLevel
	cfg.Format = o.LoggingFormat
	return cfg
}
