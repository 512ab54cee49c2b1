// Package config loads the streamprobe configuration file and supplies
// documented defaults for every knob the pipeline reads.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabasePath is the default SQLite database location.
	DefaultDatabasePath = "~/.streamprobe/streamprobe.db"

	// DefaultConnectTimeoutSeconds bounds connection establishment.
	DefaultConnectTimeoutSeconds = 30

	// DefaultReadTimeoutSeconds bounds response reads.
	DefaultReadTimeoutSeconds = 60

	// DefaultMaxURLLength bounds accepted stream URLs.
	DefaultMaxURLLength = 2048

	// DefaultSilenceThresholdDB is the RMS level below which a window
	// counts as silent.
	DefaultSilenceThresholdDB = -40.0

	// DefaultSampleDurationSeconds is the audio capture length.
	DefaultSampleDurationSeconds = 10

	// DefaultSilenceMinDurationSeconds is the shortest silent run
	// reported as a period.
	DefaultSilenceMinDurationSeconds = 2.0

	// DefaultPlaybackDurationSeconds is how long the player test plays
	// the stream.
	DefaultPlaybackDurationSeconds = 5

	// DefaultAdMonitoringSeconds is the ad detection observation window.
	DefaultAdMonitoringSeconds = 30

	// DefaultAdCheckIntervalSeconds is the metadata polling interval.
	DefaultAdCheckIntervalSeconds = 2.0

	// DefaultAdMinBreakSeconds is the shortest span counted as an ad break.
	DefaultAdMinBreakSeconds = 2.0

	// DefaultMaxCaptureBytes caps the audio sample download size.
	DefaultMaxCaptureBytes = 4 * 1024 * 1024
)

// Config is the root configuration for streamprobe.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
	Probe    ProbeConfig    `yaml:"probe"`
}

// DatabaseConfig locates the SQLite results database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig bounds on-disk scratch usage.
type StorageConfig struct {
	TempDir         string `yaml:"temp_dir"`
	MaxCaptureBytes int64  `yaml:"max_capture_bytes"`
}

// SecurityConfig controls URL validation and network timeouts.
type SecurityConfig struct {
	AllowedSchemes        []string `yaml:"allowed_schemes"`
	BlockPrivateIPs       bool     `yaml:"block_private_ips"`
	ConnectTimeoutSeconds int      `yaml:"connection_timeout"`
	ReadTimeoutSeconds    int      `yaml:"read_timeout"`
	MaxURLLength          int      `yaml:"max_url_length"`
	VerifyTLS             *bool    `yaml:"verify_ssl"`
}

// VerifyTLSEnabled resolves the tri-state verify_ssl setting; unset
// means verification is on.
func (s *SecurityConfig) VerifyTLSEnabled() bool {
	return s.VerifyTLS == nil || *s.VerifyTLS
}

// ProbeConfig tunes the diagnostic phases.
type ProbeConfig struct {
	// SilenceThresholdDB is a pointer so an explicit 0 dB threshold is
	// distinguishable from unset.
	SilenceThresholdDB        *float64 `yaml:"silence_threshold_db"`
	SampleDurationSeconds     int      `yaml:"sample_duration_seconds"`
	SilenceMinDurationSeconds float64  `yaml:"silence_min_duration_seconds"`
	PlaybackDurationSeconds   int      `yaml:"playback_duration_seconds"`
	AdMonitoringSeconds       int      `yaml:"ad_monitoring_seconds"`
	AdCheckIntervalSeconds    float64  `yaml:"ad_check_interval_seconds"`
	AdMinBreakSeconds         float64  `yaml:"ad_min_break_seconds"`
}

// SilenceThreshold resolves the silence threshold; unset means the
// default.
func (p *ProbeConfig) SilenceThreshold() float64 {
	if p.SilenceThresholdDB == nil {
		return DefaultSilenceThresholdDB
	}

	return *p.SilenceThresholdDB
}

// Load reads and parses a configuration file from the given path. An
// empty path yields the built-in defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()

	return &cfg
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Storage.TempDir == "" {
		c.Storage.TempDir = os.TempDir()
	}

	if c.Storage.MaxCaptureBytes == 0 {
		c.Storage.MaxCaptureBytes = DefaultMaxCaptureBytes
	}

	if len(c.Security.AllowedSchemes) == 0 {
		c.Security.AllowedSchemes = []string{"http", "https"}
	}

	if c.Security.ConnectTimeoutSeconds == 0 {
		c.Security.ConnectTimeoutSeconds = DefaultConnectTimeoutSeconds
	}

	if c.Security.ReadTimeoutSeconds == 0 {
		c.Security.ReadTimeoutSeconds = DefaultReadTimeoutSeconds
	}

	if c.Security.MaxURLLength == 0 {
		c.Security.MaxURLLength = DefaultMaxURLLength
	}

	if c.Security.VerifyTLS == nil {
		verify := true
		c.Security.VerifyTLS = &verify
	}

	if c.Probe.SilenceThresholdDB == nil {
		threshold := DefaultSilenceThresholdDB
		c.Probe.SilenceThresholdDB = &threshold
	}

	if c.Probe.SampleDurationSeconds == 0 {
		c.Probe.SampleDurationSeconds = DefaultSampleDurationSeconds
	}

	if c.Probe.SilenceMinDurationSeconds == 0 {
		c.Probe.SilenceMinDurationSeconds = DefaultSilenceMinDurationSeconds
	}

	if c.Probe.PlaybackDurationSeconds == 0 {
		c.Probe.PlaybackDurationSeconds = DefaultPlaybackDurationSeconds
	}

	if c.Probe.AdMonitoringSeconds == 0 {
		c.Probe.AdMonitoringSeconds = DefaultAdMonitoringSeconds
	}

	if c.Probe.AdCheckIntervalSeconds == 0 {
		c.Probe.AdCheckIntervalSeconds = DefaultAdCheckIntervalSeconds
	}

	if c.Probe.AdMinBreakSeconds == 0 {
		c.Probe.AdMinBreakSeconds = DefaultAdMinBreakSeconds
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Security.ConnectTimeoutSeconds < 0 || c.Security.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if t := c.Probe.SilenceThreshold(); t < -100 || t > 0 {
		return fmt.Errorf("silence_threshold_db must be between -100 and 0")
	}

	if c.Probe.SampleDurationSeconds < 1 || c.Probe.SampleDurationSeconds > 300 {
		return fmt.Errorf("sample_duration_seconds must be between 1 and 300")
	}

	if c.Probe.SilenceMinDurationSeconds <= 0 {
		return fmt.Errorf("silence_min_duration_seconds must be positive")
	}

	if c.Probe.PlaybackDurationSeconds <= 0 {
		return fmt.Errorf("playback_duration_seconds must be positive")
	}

	if c.Probe.AdMonitoringSeconds <= 0 {
		return fmt.Errorf("ad_monitoring_seconds must be positive")
	}

	if c.Probe.AdCheckIntervalSeconds <= 0 {
		return fmt.Errorf("ad_check_interval_seconds must be positive")
	}

	if c.Probe.AdMinBreakSeconds <= 0 {
		return fmt.Errorf("ad_min_break_seconds must be positive")
	}

	if c.Storage.MaxCaptureBytes < 0 {
		return fmt.Errorf("max_capture_bytes must not be negative")
	}

	return nil
}

// DatabaseFile returns the database path with a leading ~ expanded.
func (c *Config) DatabaseFile() (string, error) {
	return expandPath(c.Database.Path)
}

// expandPath resolves a leading ~/ against the user home directory.
func expandPath(path string) (string, error) {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}

		return filepath.Join(home, path[2:]), nil
	}

	return path, nil
}
