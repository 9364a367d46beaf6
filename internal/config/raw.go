package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawAttachConfig struct {
	Attempts   *int           `yaml:"attempts"`
	RetryDelay *time.Duration `yaml:"retry_delay"`
	SpawnWait  *time.Duration `yaml:"spawn_wait"`
}

type RawEmbedConfig struct {
	HeaderHeight    *int           `yaml:"header_height"`
	PollInterval    *time.Duration `yaml:"poll_interval"`
	LaunchTimeout   *time.Duration `yaml:"launch_timeout"`
	MinWindowWidth  *int           `yaml:"min_window_width"`
	MinWindowHeight *int           `yaml:"min_window_height"`
	StopWait        *time.Duration `yaml:"stop_wait"`
}

type RawZOrderConfig struct {
	Enabled  *bool          `yaml:"enabled"`
	Interval *time.Duration `yaml:"interval"`
}

type RawLayoutConfig struct {
	File          *string        `yaml:"file"`
	Backups       *int           `yaml:"backups"`
	AutosaveDelay *time.Duration `yaml:"autosave_delay"`
}

type RawLoggingConfig struct {
	Level     *string `yaml:"level"`
	Format    *string `yaml:"format"`
	File      *string `yaml:"file"`
	MaxSizeMB *int    `yaml:"max_size_mb"`
	MaxFiles  *int    `yaml:"max_files"`
}

// RawConfig mirrors Config with every field optional so included files can
// be layered before defaults are applied.
type RawConfig struct {
	Include IncludeList       `yaml:"include"`
	Backend *Backend          `yaml:"backend"`
	Attach  *RawAttachConfig  `yaml:"attach"`
	Embed   *RawEmbedConfig   `yaml:"embed"`
	ZOrder  *RawZOrderConfig  `yaml:"zorder"`
	Layout  *RawLayoutConfig  `yaml:"layout"`
	Logging *RawLoggingConfig `yaml:"logging"`
}

func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c
	if overlay.Backend != nil {
		out.Backend = overlay.Backend
	}
	if overlay.Attach != nil {
		base := RawAttachConfig{}
		if out.Attach != nil {
			base = *out.Attach
		}
		merged := mergeAttach(base, *overlay.Attach)
		out.Attach = &merged
	}
	if overlay.Embed != nil {
		base := RawEmbedConfig{}
		if out.Embed != nil {
			base = *out.Embed
		}
		merged := mergeEmbed(base, *overlay.Embed)
		out.Embed = &merged
	}
	if overlay.ZOrder != nil {
		base := RawZOrderConfig{}
		if out.ZOrder != nil {
			base = *out.ZOrder
		}
		merged := base
		override(&merged.Enabled, overlay.ZOrder.Enabled)
		override(&merged.Interval, overlay.ZOrder.Interval)
		out.ZOrder = &merged
	}
	if overlay.Layout != nil {
		base := RawLayoutConfig{}
		if out.Layout != nil {
			base = *out.Layout
		}
		merged := base
		override(&merged.File, overlay.Layout.File)
		override(&merged.Backups, overlay.Layout.Backups)
		override(&merged.AutosaveDelay, overlay.Layout.AutosaveDelay)
		out.Layout = &merged
	}
	if overlay.Logging != nil {
		base := RawLoggingConfig{}
		if out.Logging != nil {
			base = *out.Logging
		}
		merged := base
		override(&merged.Level, overlay.Logging.Level)
		override(&merged.Format, overlay.Logging.Format)
		override(&merged.File, overlay.Logging.File)
		override(&merged.MaxSizeMB, overlay.Logging.MaxSizeMB)
		override(&merged.MaxFiles, overlay.Logging.MaxFiles)
		out.Logging = &merged
	}
	return out
}

func mergeAttach(base RawAttachConfig, overlay RawAttachConfig) RawAttachConfig {
	out := base
	override(&out.Attempts, overlay.Attempts)
	override(&out.RetryDelay, overlay.RetryDelay)
	override(&out.SpawnWait, overlay.SpawnWait)
	return out
}

func mergeEmbed(base RawEmbedConfig, overlay RawEmbedConfig) RawEmbedConfig {
	out := base
	override(&out.HeaderHeight, overlay.HeaderHeight)
	override(&out.PollInterval, overlay.PollInterval)
	override(&out.LaunchTimeout, overlay.LaunchTimeout)
	override(&out.MinWindowWidth, overlay.MinWindowWidth)
	override(&out.MinWindowHeight, overlay.MinWindowHeight)
	override(&out.StopWait, overlay.StopWait)
	return out
}

func override[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}
