package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultExitMarker is appended to a session's output when the child
// exits, so readers polling the file can tell the program is done.
const DefaultExitMarker = "[ptywrap: process exited]"

const (
	defaultSendTimeout = 5 * time.Second
	defaultStopGrace   = 2 * time.Second
)

// Config holds the resolved runtime settings. Every field has a default;
// the optional YAML config file overrides them.
type Config struct {
	// DataDir holds the session registry database.
	DataDir string
	// SessionRoot is the parent directory for per-session directories.
	SessionRoot string
	// SendTimeout bounds the delivery step of a send operation.
	SendTimeout time.Duration
	// StopGrace is how long stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
	// ExitMarker is written to the output sink when the child exits.
	// Empty disables the marker.
	ExitMarker string
	LogLevel   string
}

// fileConfig is the YAML shape. Durations are strings so the file can
// say "5s"; the marker is a pointer so an explicit empty string disables
// it without clobbering the default.
type fileConfig struct {
	DataDir     string  `yaml:"data_dir"`
	SessionRoot string  `yaml:"session_root"`
	SendTimeout string  `yaml:"send_timeout"`
	StopGrace   string  `yaml:"stop_grace"`
	ExitMarker  *string `yaml:"exit_marker"`
	LogLevel    string  `yaml:"log_level"`
}

// Load resolves the config from ~/.config/ptywrap/config.yaml, applying
// defaults for anything unset. A missing file is not an error.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFile(filepath.Join(home, ".config", "ptywrap", "config.yaml"))
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{
		SessionRoot: os.TempDir(),
		SendTimeout: defaultSendTimeout,
		StopGrace:   defaultStopGrace,
		ExitMarker:  DefaultExitMarker,
		LogLevel:    "info",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.DataDir = filepath.Join(home, ".local", "share", "ptywrap")
	} else {
		cfg.DataDir = filepath.Join(os.TempDir(), "ptywrap")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.SessionRoot != "" {
		cfg.SessionRoot = fc.SessionRoot
	}
	if fc.SendTimeout != "" {
		d, err := time.ParseDuration(fc.SendTimeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid send_timeout %q", fc.SendTimeout)
		}
		cfg.SendTimeout = d
	}
	if fc.StopGrace != "" {
		d, err := time.ParseDuration(fc.StopGrace)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid stop_grace %q", fc.StopGrace)
		}
		cfg.StopGrace = d
	}
	if fc.ExitMarker != nil {
		cfg.ExitMarker = *fc.ExitMarker
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	return cfg, nil
}

// DBPath is the registry database file inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "ptywrap.db")
}

// SlogLevel maps the configured log level to a slog.Level, defaulting to
// info for unknown values.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
