// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BUREAU_VERIFY_CONFIG"

// Config is the master configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Verification configures request timeouts and driver channels.
	Verification VerificationConfig `yaml:"verification"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Verification *VerificationConfig `yaml:"verification,omitempty"`
	Logging      *LoggingConfig      `yaml:"logging,omitempty"`
}

// VerificationConfig configures the verification driver.
type VerificationConfig struct {
	// RequestTimeout bounds the whole handshake, measured from the
	// request's own timestamp.
	// Default: 10m
	RequestTimeout string `yaml:"request_timeout"`

	// ReceivedTimeout bounds how long a received request may go
	// unanswered, measured from the same timestamp.
	// Default: 2m
	ReceivedTimeout string `yaml:"received_timeout"`

	// CreationTimeout is the age past which requests seen in /sync
	// are ignored instead of surfaced.
	// Default: 10m
	CreationTimeout string `yaml:"creation_timeout"`

	// ChannelCapacity is the buffer size of the command and progress
	// channels of each verification.
	// Default: 100
	ChannelCapacity int `yaml:"channel_capacity"`

	// Camera reports whether this device can scan QR codes.
	// Default: true
	Camera bool `yaml:"camera"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is one of auto, text, json. "auto" picks text on a
	// terminal and JSON otherwise.
	// Default: auto (development), json (production)
	Format string `yaml:"format"`
}

// Timeouts holds the parsed verification durations.
type Timeouts struct {
	Request  time.Duration
	Received time.Duration
	Creation time.Duration
}

// Default returns the default configuration. Every field has a usable
// value, so running without a config file is supported.
func Default() *Config {
	return &Config{
		Environment: Development,
		Verification: VerificationConfig{
			RequestTimeout:  "10m",
			ReceivedTimeout: "2m",
			CreationTimeout: "10m",
			ChannelCapacity: 100,
			Camera:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by
// BUREAU_VERIFY_CONFIG. Fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path on top of
// [Default], then applies the environment section.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if verification := overrides.Verification; verification != nil {
		if verification.RequestTimeout != "" {
			c.Verification.RequestTimeout = verification.RequestTimeout
		}
		if verification.ReceivedTimeout != "" {
			c.Verification.ReceivedTimeout = verification.ReceivedTimeout
		}
		if verification.CreationTimeout != "" {
			c.Verification.CreationTimeout = verification.CreationTimeout
		}
		if verification.ChannelCapacity != 0 {
			c.Verification.ChannelCapacity = verification.ChannelCapacity
		}
		// Camera is a bool, so it is always taken from the override.
		c.Verification.Camera = verification.Camera
	}

	if logging := overrides.Logging; logging != nil {
		if logging.Level != "" {
			c.Logging.Level = logging.Level
		}
		if logging.Format != "" {
			c.Logging.Format = logging.Format
		}
	}
}

// Timeouts parses the verification durations.
func (c *Config) Timeouts() (Timeouts, error) {
	var timeouts Timeouts
	var err error
	if timeouts.Request, err = parsePositive("verification.request_timeout", c.Verification.RequestTimeout); err != nil {
		return Timeouts{}, err
	}
	if timeouts.Received, err = parsePositive("verification.received_timeout", c.Verification.ReceivedTimeout); err != nil {
		return Timeouts{}, err
	}
	if timeouts.Creation, err = parsePositive("verification.creation_timeout", c.Verification.CreationTimeout); err != nil {
		return Timeouts{}, err
	}
	return timeouts, nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if _, err := c.Timeouts(); err != nil {
		errs = append(errs, err)
	}
	if c.Verification.ChannelCapacity <= 0 {
		errs = append(errs, fmt.Errorf("verification.channel_capacity must be positive, got %d", c.Verification.ChannelCapacity))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of auto, text, json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func parsePositive(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}
