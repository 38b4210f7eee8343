// Package config provides configuration management for chzzk-recorder using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultPollInterval   = 30 * time.Second
	defaultStallRestart   = 3 * time.Minute
	defaultPrefetch       = 2
	defaultLiveEdgeBias   = 2
	defaultMinFreeBytes   = 1 << 30 // 1 GiB
	defaultServerPort     = 8400
	defaultShutdownGrace  = 5 * time.Second
	defaultPollConcurrent = 4
)

// Quality selection modes for HLS variant selection.
const (
	QualityBest       = "best"
	QualityPrefer1080 = "prefer1080"
)

// Policies for files already present in a streamer directory.
const (
	PreviousArchive = "archive"
	PreviousDelete  = "delete"
	PreviousKeep    = "keep"
)

// Config holds all configuration for the application.
type Config struct {
	Recorder RecorderConfig `mapstructure:"recorder"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RecorderConfig holds polling and download behaviour.
type RecorderConfig struct {
	// TargetChannels is the set of Chzzk channel IDs to watch.
	TargetChannels []string `mapstructure:"target_channels"`

	// PollInterval is the live-status poll period.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// PollConcurrency bounds concurrent live-detail calls per tick.
	PollConcurrency int `mapstructure:"poll_concurrency"`

	// StallRestart is how long a recording may go without file growth
	// before the supervisor kills and restarts its worker.
	StallRestart time.Duration `mapstructure:"stall_restart"`

	// Quality selects the HLS variant: "best" or "prefer1080".
	Quality string `mapstructure:"quality"`

	// OnStartPrevious is the policy for files already present in the
	// streamer directory: "archive", "delete" or "keep".
	OnStartPrevious string `mapstructure:"on_start_previous"`

	// LLHLS enables _HLS_msn/_HLS_part playlist hinting.
	LLHLS bool `mapstructure:"ll_hls"`

	// Prefetch is the number of segments fetched per playlist refresh.
	Prefetch int `mapstructure:"prefetch"`

	// LiveEdgeBias is added to the first observed media sequence number.
	LiveEdgeBias int `mapstructure:"live_edge_bias"`

	// MinFreeBytes refuses new recordings when the recordings volume has
	// less free space than this. Supports human-readable values like "1GB".
	MinFreeBytes ByteSize `mapstructure:"min_free_bytes"`
}

// StorageConfig holds filesystem layout configuration.
type StorageConfig struct {
	RecordingsDir string `mapstructure:"recordings_dir"`
	ArchiveDir    string `mapstructure:"archive_dir"`
	LogsDir       string `mapstructure:"logs_dir"`
	HistoryDB     string `mapstructure:"history_db"`
}

// AuthConfig holds session blob and refresh scheduling configuration.
type AuthConfig struct {
	// SessionPath is the JSON session blob produced by the login collaborator.
	SessionPath string `mapstructure:"session_path"`

	// RefreshHours are local wall-clock hours at which the session is refreshed.
	RefreshHours []int `mapstructure:"refresh_hours"`
}

// ServerConfig holds the optional status HTTP API configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with CHZZK_, using underscores for nesting.
// Example: CHZZK_RECORDER_POLL_INTERVAL=15s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/chzzk-recorder")
		v.AddConfigPath("$HOME/.chzzk-recorder")
	}

	v.SetEnvPrefix("CHZZK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration from an already-populated
// viper instance, typically the global one the CLI binds its flags into.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("recorder.target_channels", []string{})
	v.SetDefault("recorder.poll_interval", defaultPollInterval)
	v.SetDefault("recorder.poll_concurrency", defaultPollConcurrent)
	v.SetDefault("recorder.stall_restart", defaultStallRestart)
	v.SetDefault("recorder.quality", QualityBest)
	v.SetDefault("recorder.on_start_previous", PreviousArchive)
	v.SetDefault("recorder.ll_hls", true)
	v.SetDefault("recorder.prefetch", defaultPrefetch)
	v.SetDefault("recorder.live_edge_bias", defaultLiveEdgeBias)
	v.SetDefault("recorder.min_free_bytes", int64(defaultMinFreeBytes))

	v.SetDefault("storage.recordings_dir", "./recordings")
	v.SetDefault("storage.archive_dir", "./archive")
	v.SetDefault("storage.logs_dir", "./logs")
	v.SetDefault("storage.history_db", "chzzk-recorder.db")

	v.SetDefault("auth.session_path", "./config/session.json")
	v.SetDefault("auth.refresh_hours", []int{6, 18})

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Recorder.PollInterval < time.Second {
		return fmt.Errorf("recorder.poll_interval must be at least 1s")
	}
	if c.Recorder.StallRestart < 10*time.Second {
		return fmt.Errorf("recorder.stall_restart must be at least 10s")
	}
	if c.Recorder.PollConcurrency < 1 {
		return fmt.Errorf("recorder.poll_concurrency must be at least 1")
	}
	if c.Recorder.Prefetch < 1 {
		return fmt.Errorf("recorder.prefetch must be at least 1")
	}

	switch c.Recorder.Quality {
	case QualityBest, QualityPrefer1080:
	default:
		return fmt.Errorf("recorder.quality must be one of: %s, %s", QualityBest, QualityPrefer1080)
	}

	switch c.Recorder.OnStartPrevious {
	case PreviousArchive, PreviousDelete, PreviousKeep:
	default:
		return fmt.Errorf("recorder.on_start_previous must be one of: %s, %s, %s",
			PreviousArchive, PreviousDelete, PreviousKeep)
	}

	for _, h := range c.Auth.RefreshHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("auth.refresh_hours entries must be between 0 and 23, got %d", h)
		}
	}

	if c.Storage.RecordingsDir == "" {
		return fmt.Errorf("storage.recordings_dir is required")
	}
	if c.Recorder.OnStartPrevious == PreviousArchive && c.Storage.ArchiveDir == "" {
		return fmt.Errorf("storage.archive_dir is required when on_start_previous is archive")
	}

	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ValidateTargets checks the parts of the configuration that are fatal for
// the watch loop but not for inspection commands like "config show".
func (c *Config) ValidateTargets() error {
	if len(c.Recorder.TargetChannels) == 0 {
		return fmt.Errorf("recorder.target_channels must not be empty")
	}
	seen := make(map[string]bool, len(c.Recorder.TargetChannels))
	for _, ch := range c.Recorder.TargetChannels {
		if ch == "" {
			return fmt.Errorf("recorder.target_channels must not contain empty IDs")
		}
		if seen[ch] {
			return fmt.Errorf("recorder.target_channels contains duplicate channel %q", ch)
		}
		seen[ch] = true
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
