package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/florawren/clawboard/internal/aggregator"
	"github.com/florawren/clawboard/internal/auth"
	"github.com/florawren/clawboard/internal/db"
	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/server"
)

// Config represents the application configuration. It is constructed once
// at startup and passed by reference into each component; no component
// reads the process environment on its own.
type Config struct {
	Gateway    gateway.Config    `toml:"gateway"`
	Auth       auth.Config       `toml:"auth"`
	Aggregator aggregator.Config `toml:"aggregator"`
	Database   db.Config         `toml:"database"`
	Server     server.Config     `toml:"server"`
	Logging    LoggingConfig     `toml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway:    gateway.DefaultConfig(),
		Auth:       auth.DefaultConfig(),
		Aggregator: aggregator.DefaultConfig(),
		Database: db.Config{
			// Empty DSN leaves the notification store disabled
			Driver:          "sqlite3",
			DSN:             "",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Server: server.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Aggregator.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}

	// Database is optional: an empty DSN disables the notification store
	if c.Database.DSN != "" {
		if c.Database.Driver != "sqlite3" {
			return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
