package config

import (
	"fmt"
	"os"
)

var explainPaths = map[string]func(*Config) any{
	"backend":                 func(c *Config) any { return c.Backend },
	"attach.attempts":         func(c *Config) any { return c.Attach.Attempts },
	"attach.retry_delay":      func(c *Config) any { return c.Attach.RetryDelay.String() },
	"attach.spawn_wait":       func(c *Config) any { return c.Attach.SpawnWait.String() },
	"embed.header_height":     func(c *Config) any { return c.Embed.HeaderHeight },
	"embed.poll_interval":     func(c *Config) any { return c.Embed.PollInterval.String() },
	"embed.launch_timeout":    func(c *Config) any { return c.Embed.LaunchTimeout.String() },
	"embed.min_window_width":  func(c *Config) any { return c.Embed.MinWindowWidth },
	"embed.min_window_height": func(c *Config) any { return c.Embed.MinWindowHeight },
	"embed.stop_wait":         func(c *Config) any { return c.Embed.StopWait.String() },
	"zorder.enabled":          func(c *Config) any { return c.ZOrder.Enabled },
	"zorder.interval":         func(c *Config) any { return c.ZOrder.Interval.String() },
	"layout.file":             func(c *Config) any { return c.Layout.File },
	"layout.backups":          func(c *Config) any { return c.Layout.Backups },
	"layout.autosave_delay":   func(c *Config) any { return c.Layout.AutosaveDelay.String() },
	"logging.level":           func(c *Config) any { return c.GetLoggingConfig().Level },
	"logging.format":          func(c *Config) any { return c.GetLoggingConfig().Format },
	"logging.file":            func(c *Config) any { return c.Logging.File },
	"logging.max_size_mb":     func(c *Config) any { return c.Logging.MaxSizeMB },
	"logging.max_files":       func(c *Config) any { return c.Logging.MaxFiles },
}

var envOverrides = map[string]string{
	"logging.level":  "DESKPORTAL_LOG_LEVEL",
	"logging.format": "DESKPORTAL_LOG_FORMAT",
}

// Paths lists every path Explain understands, sorted.
func Paths() []string {
	return sortedKeys(explainPaths)
}

// Explain returns the effective value at the given YAML-like path and the
// source that last set it.
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}
	get, ok := explainPaths[path]
	if !ok {
		return nil, Source{}, fmt.Errorf("unknown path: %s", path)
	}
	value := get(res.Config)

	if env, ok := envOverrides[path]; ok && os.Getenv(env) != "" {
		return value, Source{Kind: SourceEnv, Name: env}, nil
	}
	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}
