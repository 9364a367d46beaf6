package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names the windowing backend the daemon drives.
type Backend string

const (
	BackendAuto   Backend = "auto"   // Native backend for the running OS.
	BackendX11    Backend = "x11"    // X11 via xgb/xgbutil.
	BackendWin32  Backend = "win32"  // Win32 via user32/gdi32.
	BackendMemory Backend = "memory" // Headless in-memory windows.
)

// AttachConfig bounds the desktop shell attach retry loop.
type AttachConfig struct {
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	SpawnWait  time.Duration `yaml:"spawn_wait"`
}

// EmbedConfig tunes foreign application embedding.
type EmbedConfig struct {
	HeaderHeight   int           `yaml:"header_height"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	LaunchTimeout  time.Duration `yaml:"launch_timeout"`
	MinWindowWidth int           `yaml:"min_window_width"`
	// MinWindowHeight filters out splash screens during launch polling.
	MinWindowHeight int           `yaml:"min_window_height"`
	StopWait        time.Duration `yaml:"stop_wait"`
}

// ZOrderConfig controls the optional bottom-of-stack enforcer.
type ZOrderConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LayoutConfig locates the persisted layout file.
type LayoutConfig struct {
	File          string        `yaml:"file"`
	Backups       int           `yaml:"backups"`
	AutosaveDelay time.Duration `yaml:"autosave_delay"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Config is the effective daemon configuration.
type Config struct {
	Backend Backend       `yaml:"backend"`
	Attach  AttachConfig  `yaml:"attach"`
	Embed   EmbedConfig   `yaml:"embed"`
	ZOrder  ZOrderConfig  `yaml:"zorder"`
	Layout  LayoutConfig  `yaml:"layout"`
	Logging LoggingConfig `yaml:"logging"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend: BackendAuto,
		Attach: AttachConfig{
			Attempts:   5,
			RetryDelay: 2 * time.Second,
			SpawnWait:  100 * time.Millisecond,
		},
		Embed: EmbedConfig{
			HeaderHeight:    32,
			PollInterval:    100 * time.Millisecond,
			LaunchTimeout:   10 * time.Second,
			MinWindowWidth:  50,
			MinWindowHeight: 50,
			StopWait:        2 * time.Second,
		},
		ZOrder: ZOrderConfig{
			Enabled:  false,
			Interval: 500 * time.Millisecond,
		},
		Layout: LayoutConfig{
			Backups:       5,
			AutosaveDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
	}
}

func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultLayoutPath is used when layout.file is unset.
func DefaultLayoutPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "layout.json"), nil
}

// DefaultProfilesDir holds named layout profiles.
func DefaultProfilesDir() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles"), nil
}

func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "deskportal"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "deskportal"), nil
}

// LayoutPath returns layout.file with ~ expanded, or the default location.
func (c *Config) LayoutPath() (string, error) {
	if c == nil || strings.TrimSpace(c.Layout.File) == "" {
		return DefaultLayoutPath()
	}
	return expandHome(c.Layout.File)
}

// GetLoggingConfig returns the logging configuration with environment
// overrides applied.
func (c *Config) GetLoggingConfig() LoggingConfig {
	cfg := DefaultConfig().Logging
	if c != nil {
		cfg = c.Logging
	}
	if v := strings.TrimSpace(os.Getenv("DESKPORTAL_LOG_LEVEL")); v != "" {
		cfg.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DESKPORTAL_LOG_FORMAT")); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if cfg.File != "" {
		if p, err := expandHome(cfg.File); err == nil {
			cfg.File = p
		}
	}
	return cfg
}

// Save writes the configuration to the standard location.
func (c *Config) Save() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to path. Comments and includes from the
// original YAML are not preserved.
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendX11, BackendWin32, BackendMemory:
	default:
		return &ValidationError{Path: "backend", Err: fmt.Errorf("backend must be one of: auto, x11, win32, memory")}
	}

	if c.Attach.Attempts < 1 {
		return &ValidationError{Path: "attach.attempts", Err: fmt.Errorf("attempts must be >= 1")}
	}
	if c.Attach.RetryDelay < 0 {
		return &ValidationError{Path: "attach.retry_delay", Err: fmt.Errorf("retry_delay must be >= 0")}
	}
	if c.Attach.SpawnWait < 0 {
		return &ValidationError{Path: "attach.spawn_wait", Err: fmt.Errorf("spawn_wait must be >= 0")}
	}

	if c.Embed.HeaderHeight < 0 {
		return &ValidationError{Path: "embed.header_height", Err: fmt.Errorf("header_height must be >= 0")}
	}
	if c.Embed.PollInterval <= 0 {
		return &ValidationError{Path: "embed.poll_interval", Err: fmt.Errorf("poll_interval must be > 0")}
	}
	if c.Embed.LaunchTimeout < c.Embed.PollInterval {
		return &ValidationError{Path: "embed.launch_timeout", Err: fmt.Errorf("launch_timeout must be >= poll_interval")}
	}
	if c.Embed.MinWindowWidth < 1 || c.Embed.MinWindowHeight < 1 {
		return &ValidationError{Path: "embed.min_window_width", Err: fmt.Errorf("min_window_width and min_window_height must be >= 1")}
	}
	if c.Embed.StopWait < 0 {
		return &ValidationError{Path: "embed.stop_wait", Err: fmt.Errorf("stop_wait must be >= 0")}
	}

	if c.ZOrder.Enabled && c.ZOrder.Interval <= 0 {
		return &ValidationError{Path: "zorder.interval", Err: fmt.Errorf("interval must be > 0 when zorder is enabled")}
	}

	if c.Layout.Backups < 0 {
		return &ValidationError{Path: "layout.backups", Err: fmt.Errorf("backups must be >= 0")}
	}
	if c.Layout.AutosaveDelay < 0 {
		return &ValidationError{Path: "layout.autosave_delay", Err: fmt.Errorf("autosave_delay must be >= 0")}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Path: "logging.level", Err: fmt.Errorf("level must be one of: debug, info, warn, error")}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return &ValidationError{Path: "logging.format", Err: fmt.Errorf("format must be one of: text, json")}
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return &ValidationError{Path: "logging.max_size_mb", Err: fmt.Errorf("max_size_mb and max_files must be >= 0")}
	}

	for _, w := range c.validationWarnings() {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	return nil
}

func (c *Config) validationWarnings() []string {
	var warnings []string
	if c.Layout.Backups == 0 {
		warnings = append(warnings, "layout.backups is 0; a corrupt layout file cannot be recovered")
	}
	if c.Backend == BackendMemory {
		warnings = append(warnings, "backend memory does not touch the real desktop")
	}
	return warnings
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
