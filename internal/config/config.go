// Package config provides configuration management for hlsclient using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "HLSCLIENT"

// Default configuration values.
const (
	defaultFetchTimeout      = 30 * time.Second
	defaultRetryDelay        = time.Second
	defaultMaxPlaylistBytes  = 4 * 1024 * 1024
	defaultCircuitThreshold  = 5
	defaultCircuitTimeout    = 30 * time.Second
	defaultSessionTimeout    = 30 * time.Second
	defaultWarmupSegments    = 2
	defaultUpFactor          = 1.4
	defaultDownFactor        = 1.1
	defaultMinReloadInterval = time.Second
	defaultLookaheadFactor   = 3.0
	defaultBandwidthWindow   = 30
	defaultUserAgent         = "hlsclient/1.0"
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// FetchConfig holds transport configuration for playlist, key and segment
// requests.
type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxPlaylistBytes int64         `mapstructure:"max_playlist_bytes" yaml:"max_playlist_bytes"`
	CircuitThreshold int           `mapstructure:"circuit_threshold" yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout" yaml:"circuit_timeout"`
}

// SessionConfig holds download session configuration.
type SessionConfig struct {
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	WarmupSegments    int           `mapstructure:"warmup_segments" yaml:"warmup_segments"`
	UpFactor          float64       `mapstructure:"up_factor" yaml:"up_factor"`
	DownFactor        float64       `mapstructure:"down_factor" yaml:"down_factor"`
	InitialRung       string        `mapstructure:"initial_rung" yaml:"initial_rung"`
	StripPadding      bool          `mapstructure:"strip_padding" yaml:"strip_padding"`
	CryptoErrorsFatal bool          `mapstructure:"crypto_errors_fatal" yaml:"crypto_errors_fatal"`
	MinReloadInterval time.Duration `mapstructure:"min_reload_interval" yaml:"min_reload_interval"`
	LookaheadFactor   float64       `mapstructure:"lookahead_factor" yaml:"lookahead_factor"`
	BandwidthWindow   int           `mapstructure:"bandwidth_window" yaml:"bandwidth_window"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSCLIENT_ and use underscores for
// nesting. Example: HLSCLIENT_SESSION_INITIAL_RUNG=lowest.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".hlsclient")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.AddConfigPath("/etc/hlsclient")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults and env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Fetch defaults. Transport errors are fatal to a session, so retries
	// are off unless configured.
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", 0)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("fetch.max_playlist_bytes", defaultMaxPlaylistBytes)
	v.SetDefault("fetch.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("fetch.circuit_timeout", defaultCircuitTimeout)

	// Session defaults
	v.SetDefault("session.fetch_timeout", defaultSessionTimeout)
	v.SetDefault("session.warmup_segments", defaultWarmupSegments)
	v.SetDefault("session.up_factor", defaultUpFactor)
	v.SetDefault("session.down_factor", defaultDownFactor)
	v.SetDefault("session.initial_rung", "highest")
	v.SetDefault("session.strip_padding", false)
	v.SetDefault("session.crypto_errors_fatal", false)
	v.SetDefault("session.min_reload_interval", defaultMinReloadInterval)
	v.SetDefault("session.lookahead_factor", defaultLookaheadFactor)
	v.SetDefault("session.bandwidth_window", defaultBandwidthWindow)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Fetch validation
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.RetryAttempts < 0 {
		return fmt.Errorf("fetch.retry_attempts must not be negative")
	}
	if c.Fetch.MaxPlaylistBytes < 1 {
		return fmt.Errorf("fetch.max_playlist_bytes must be at least 1")
	}
	if c.Fetch.CircuitThreshold < 1 {
		return fmt.Errorf("fetch.circuit_threshold must be at least 1")
	}

	// Session validation
	if c.Session.FetchTimeout <= 0 {
		return fmt.Errorf("session.fetch_timeout must be positive")
	}
	if c.Session.WarmupSegments < 0 {
		return fmt.Errorf("session.warmup_segments must not be negative")
	}
	if c.Session.UpFactor < 1 {
		return fmt.Errorf("session.up_factor must be at least 1")
	}
	if c.Session.DownFactor < 1 {
		return fmt.Errorf("session.down_factor must be at least 1")
	}
	validRungs := map[string]bool{"highest": true, "lowest": true}
	if !validRungs[c.Session.InitialRung] {
		return fmt.Errorf("session.initial_rung must be one of: highest, lowest")
	}
	if c.Session.MinReloadInterval < 0 {
		return fmt.Errorf("session.min_reload_interval must not be negative")
	}
	if c.Session.LookaheadFactor <= 0 {
		return fmt.Errorf("session.lookahead_factor must be positive")
	}
	if c.Session.BandwidthWindow < 1 {
		return fmt.Errorf("session.bandwidth_window must be at least 1")
	}

	return nil
}
