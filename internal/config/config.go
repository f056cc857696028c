// Package config loads bidictl settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvURL             = "BIDICTL_URL"
	EnvStartupTimeout  = "BIDICTL_STARTUP_TIMEOUT"
	EnvCommandTimeout  = "BIDICTL_COMMAND_TIMEOUT"
	EnvLogLevel        = "BIDICTL_LOG_LEVEL"
	EnvMetricsAddr     = "BIDICTL_METRICS_ADDR"
	EnvFirefox         = "BIDICTL_FIREFOX"
	EnvBrowserHeadless = "BIDICTL_HEADLESS"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "bidictl.yaml"

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config holds every bidictl setting.
type Config struct {
	URL             string        `yaml:"url" json:"url"`
	StartupTimeout  time.Duration `yaml:"startup_timeout" json:"startup_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CommandTimeout  time.Duration `yaml:"command_timeout" json:"command_timeout"`
	BufferSize      int           `yaml:"buffer_size" json:"buffer_size"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	MetricsAddr     string        `yaml:"metrics_addr" json:"metrics_addr"`
	Browser         BrowserConfig `yaml:"browser" json:"browser"`
}

// BrowserConfig controls the browser launched when no URL is configured.
type BrowserConfig struct {
	Binary   string `yaml:"binary" json:"binary"`
	Port     int    `yaml:"port" json:"port"`
	Headless bool   `yaml:"headless" json:"headless"`
	Profile  string `yaml:"profile" json:"profile"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		StartupTimeout:  10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CommandTimeout:  60 * time.Second,
		BufferSize:      4096,
		LogLevel:        "warn",
		Browser: BrowserConfig{
			Port:     9222,
			Headless: true,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, then with
// variables from envFile, then with the process environment. A missing
// file at either path is skipped; an empty path skips that source.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	fileEnv := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		default:
			fileEnv = vars
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvURL); ok {
		c.URL = v
	}
	if v, ok := lookup(EnvStartupTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStartupTimeout, err)
		}
		c.StartupTimeout = d
	}
	if v, ok := lookup(EnvCommandTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCommandTimeout, err)
		}
		c.CommandTimeout = d
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	if v, ok := lookup(EnvFirefox); ok {
		c.Browser.Binary = v
	}
	if v, ok := lookup(EnvBrowserHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBrowserHeadless, err)
		}
		c.Browser.Headless = b
	}
	return nil
}

// parseDuration accepts a Go duration ("1m30s") or whole seconds ("90").
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", c.URL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url must use ws or wss, got %q", c.URL)
		}
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("startup timeout must be positive, got %s", c.StartupTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %s", c.CommandTimeout)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log level '%s', must be one of: %s", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser config validation failed: %w", err)
	}
	return nil
}

// Validate reports the first invalid browser setting.
func (b *BrowserConfig) Validate() error {
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", b.Port)
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level. Unknown values map to warn.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
