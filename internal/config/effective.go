package config

import (
	"fmt"
	"sort"
	"strings"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig layers raw over DefaultConfig.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Backend != nil {
		cfg.Backend = Backend(strings.ToLower(strings.TrimSpace(string(*raw.Backend))))
	}

	if a := raw.Attach; a != nil {
		assign(&cfg.Attach.Attempts, a.Attempts)
		assign(&cfg.Attach.RetryDelay, a.RetryDelay)
		assign(&cfg.Attach.SpawnWait, a.SpawnWait)
	}

	if e := raw.Embed; e != nil {
		assign(&cfg.Embed.HeaderHeight, e.HeaderHeight)
		assign(&cfg.Embed.PollInterval, e.PollInterval)
		assign(&cfg.Embed.LaunchTimeout, e.LaunchTimeout)
		assign(&cfg.Embed.MinWindowWidth, e.MinWindowWidth)
		assign(&cfg.Embed.MinWindowHeight, e.MinWindowHeight)
		assign(&cfg.Embed.StopWait, e.StopWait)
	}

	if z := raw.ZOrder; z != nil {
		assign(&cfg.ZOrder.Enabled, z.Enabled)
		assign(&cfg.ZOrder.Interval, z.Interval)
	}

	if l := raw.Layout; l != nil {
		assign(&cfg.Layout.File, l.File)
		assign(&cfg.Layout.Backups, l.Backups)
		assign(&cfg.Layout.AutosaveDelay, l.AutosaveDelay)
	}

	if l := raw.Logging; l != nil {
		if l.Level != nil {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*l.Level))
		}
		if l.Format != nil {
			cfg.Logging.Format = strings.ToLower(strings.TrimSpace(*l.Format))
		}
		assign(&cfg.Logging.File, l.File)
		assign(&cfg.Logging.MaxSizeMB, l.MaxSizeMB)
		assign(&cfg.Logging.MaxFiles, l.MaxFiles)
	}

	return cfg, nil
}

func assign[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
