// Package config loads the settings of the command line tools from an
// optional YAML file, overridden by environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort    = 587
	defaultTimeout = 30 * time.Second
)

type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Debug   bool          `yaml:"debug"`
	DKIM    DKIMConfig    `yaml:"dkim"`
	Logging LoggingConfig `yaml:"logging"`
}

type RelayConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Sender   string        `yaml:"sender"`
	Password string        `yaml:"password"`
	TLS      bool          `yaml:"tls"`
	Timeout  time.Duration `yaml:"timeout"`
	Helo     string        `yaml:"helo"`
}

type DKIMConfig struct {
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	LokiURL     string `yaml:"loki_url"`
	LokiEnabled bool   `yaml:"loki_enabled"`
}

// Load builds the configuration from defaults and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file on top of the defaults. Environment variables
// override values from the file.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Relay.Sender == "" {
		return ErrMissingSender
	}
	if c.Relay.Host == "" {
		return ErrMissingHost
	}
	return nil
}

// DKIMEnabled reports whether a signing key and domain are configured.
func (c *Config) DKIMEnabled() bool {
	return c.DKIM.KeyFile != "" && c.DKIM.Domain != ""
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) applyDefaults() {
	c.Relay.Port = defaultPort
	c.Relay.TLS = true
	c.Relay.Timeout = defaultTimeout
	c.Logging.Level = "info"
	c.Logging.LokiURL = "http://localhost:3100/loki/api/v1/push"
}

func (c *Config) applyEnvVars() error {
	if v := os.Getenv("MAIL_HOST"); v != "" {
		c.Relay.Host = v
	}
	if v := os.Getenv("MAIL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAIL_PORT %q: %w", v, err)
		}
		c.Relay.Port = port
	}
	if v := os.Getenv("MAIL_SENDER"); v != "" {
		c.Relay.Sender = v
	}
	if v := os.Getenv("MAIL_PASSWORD"); v != "" {
		c.Relay.Password = v
	}
	if v := os.Getenv("MAIL_TLS"); v != "" {
		tls, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MAIL_TLS %q: %w", v, err)
		}
		c.Relay.TLS = tls
	}
	if v := os.Getenv("MAIL_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MAIL_TIMEOUT %q: %w", v, err)
		}
		c.Relay.Timeout = timeout
	}
	if v := os.Getenv("MAIL_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MAIL_DEBUG %q: %w", v, err)
		}
		c.Debug = debug
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}
