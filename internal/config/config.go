// Package config loads and validates the runtime TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mapwatch/internal/domain"

	"github.com/pelletier/go-toml/v2"
)

const (
	// minCycleIntervalSec is the scheduler floor; shorter intervals would
	// hammer game servers with UDP queries.
	minCycleIntervalSec = 30

	defaultCycleIntervalSec = 60
	defaultQueryTimeoutSec  = 5
	defaultRecentMatchLimit = 50
	defaultRulesPath        = "rules.toml"
	defaultEventsURL        = "nats://127.0.0.1:4222"
	defaultEventsStream     = "MAPWATCH_MATCHES"
	defaultEventsSubject    = "mapwatch.matches"
)

// Config holds the full service runtime configuration.
// Params: TOML sections decoded from the config file.
// Returns: validated runtime snapshot.
type Config struct {
	Service ServiceConfig         `toml:"service"`
	Log     LogConfig             `toml:"log"`
	Query   QueryConfig           `toml:"query"`
	Rules   RulesConfig           `toml:"rules"`
	Events  EventsConfig          `toml:"events"`
	Notify  domain.NotifySettings `toml:"notify"`
}

// ServiceConfig contains process-level monitor settings.
// Params: cycle interval, autostart flag, and match history size.
// Returns: scheduler behavior defaults.
type ServiceConfig struct {
	Name             string `toml:"name"`
	IntervalSec      int    `toml:"interval_sec"`
	AutoStart        bool   `toml:"auto_start"`
	RecentMatchLimit int    `toml:"recent_match_limit"`
}

// QueryConfig configures the server query client.
// Params: per-server timeout.
// Returns: query behavior settings.
type QueryConfig struct {
	TimeoutSec int `toml:"timeout_sec"`
}

// RulesConfig points to the rule store file.
// Params: TOML rules file path.
// Returns: rule persistence settings.
type RulesConfig struct {
	Path string `toml:"path"`
}

// EventsConfig configures the optional NATS match event publisher.
// Params: enable flag, server URL, and stream/subject names.
// Returns: event publishing settings.
type EventsConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// FromCLI validates the config file argument.
// Params: --config-file flag value.
// Returns: cleaned path or validation error.
func FromCLI(filePath string) (string, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return "", errors.New("--config-file must be provided")
	}
	return filePath, nil
}

// LoadFile reads, defaults, and validates one TOML configuration file.
// Params: config file path.
// Returns: validated config or read/decode/validation error.
func LoadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveNotifySettings rewrites the config file with updated notify settings.
// Params: config file path, current config snapshot, and new notify settings.
// Returns: encode or filesystem error; the write is atomic via temp+rename.
func SaveNotifySettings(path string, cfg Config, settings domain.NotifySettings) error {
	cfg.Notify = settings.Clone()
	body, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create config temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write config temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close config temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace config file %q: %w", path, err)
	}
	return nil
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "mapwatch"
	}
	if cfg.Service.IntervalSec <= 0 {
		cfg.Service.IntervalSec = defaultCycleIntervalSec
	}
	if cfg.Service.IntervalSec < minCycleIntervalSec {
		cfg.Service.IntervalSec = minCycleIntervalSec
	}
	if cfg.Service.RecentMatchLimit <= 0 {
		cfg.Service.RecentMatchLimit = defaultRecentMatchLimit
	}

	if cfg.Query.TimeoutSec <= 0 {
		cfg.Query.TimeoutSec = defaultQueryTimeoutSec
	}

	if strings.TrimSpace(cfg.Rules.Path) == "" {
		cfg.Rules.Path = defaultRulesPath
	}

	if strings.TrimSpace(cfg.Events.URL) == "" {
		cfg.Events.URL = defaultEventsURL
	}
	if strings.TrimSpace(cfg.Events.Stream) == "" {
		cfg.Events.Stream = defaultEventsStream
	}
	if strings.TrimSpace(cfg.Events.Subject) == "" {
		cfg.Events.Subject = defaultEventsSubject
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
}

// validateConfig validates the full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}
	if cfg.Events.Enabled && strings.TrimSpace(cfg.Events.URL) == "" {
		return errors.New("events.url is required when events are enabled")
	}
	if method := strings.TrimSpace(cfg.Notify.Webhook.Method); method != "" {
		switch strings.ToUpper(method) {
		case "POST", "PUT", "PATCH":
		default:
			return fmt.Errorf("notify.webhook.method has unsupported value %q", cfg.Notify.Webhook.Method)
		}
	}
	return nil
}
