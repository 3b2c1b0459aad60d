// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads, validates and watches the system configuration.
// Precedence is ENV > file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/isc-konstanz/loris/internal/connector"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for both duration strings
// ("30s") and bare numbers (seconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	}
	return fmt.Errorf("invalid duration value %v", raw)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SystemConfig identifies the integrated system.
type SystemConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	DataDir string `yaml:"data"`
}

// LocationConfig is the geographic context of the system.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Timezone  string  `yaml:"timezone"`
	Altitude  float64 `yaml:"altitude"`
}

// Configured reports whether a location section was provided.
func (l LocationConfig) Configured() bool {
	return l != (LocationConfig{})
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	MetricsListen   string   `yaml:"metrics_listen"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	RateLimit       int      `yaml:"rate_limit"` // requests per minute per client, 0 = default
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ConnectorConfig declares one connector instance.
type ConnectorConfig struct {
	ID       string             `yaml:"id"`
	Type     string             `yaml:"type"`
	Disabled bool               `yaml:"disabled"`
	Settings connector.Settings `yaml:"settings"`
}

// BindingConfig references a connector from a channel, either as a bare
// connector ID or as a mapping with additional attributes.
type BindingConfig struct {
	Connector string `yaml:"connector"`
	Address   string `yaml:"address"`
	Table     string `yaml:"table"`
	Disabled  bool   `yaml:"disabled"`
}

// UnmarshalYAML accepts both `logger: db` and `logger: {connector: db, table: t}`.
func (b *BindingConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var id string
		if err := node.Decode(&id); err != nil {
			return err
		}
		*b = BindingConfig{Connector: id}
		return nil
	}
	type plain BindingConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*b = BindingConfig(p)
	return nil
}

// ChannelDefaults are inherited by every channel entry that leaves the
// corresponding field empty.
type ChannelDefaults struct {
	Type      string         `yaml:"type"`
	Freq      Duration       `yaml:"freq"`
	Connector *BindingConfig `yaml:"connector"`
	Logger    *BindingConfig `yaml:"logger"`
	Table     string         `yaml:"table"`
}

// ChannelConfig declares one channel.
type ChannelConfig struct {
	Key       string         `yaml:"key"`
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Freq      Duration       `yaml:"freq"`
	Address   string         `yaml:"address"`
	Table     string         `yaml:"table"`
	Disabled  bool           `yaml:"disabled"`
	Connector *BindingConfig `yaml:"connector"`
	Logger    *BindingConfig `yaml:"logger"`
}

// ChannelsConfig groups channel defaults and entries.
type ChannelsConfig struct {
	Defaults ChannelDefaults `yaml:"defaults"`
	Entries  []ChannelConfig `yaml:"entries"`
}

// WeatherConfig enables the weather forecast component.
type WeatherConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Connector string   `yaml:"connector"` // DWD connector ID serving the weather channels
	Interval  Duration `yaml:"interval"`  // forecast schedule interval
	Offset    Duration `yaml:"offset"`    // offset into the schedule interval
}

// AppConfig is the complete effective configuration of the daemon.
type AppConfig struct {
	System     SystemConfig      `yaml:"system"`
	Location   LocationConfig    `yaml:"location"`
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	Interval   Duration          `yaml:"interval"`
	Connectors []ConnectorConfig `yaml:"connectors"`
	Channels   ChannelsConfig    `yaml:"channels"`
	Weather    WeatherConfig     `yaml:"weather"`

	// Version is stamped by the loader, not read from the file.
	Version string `yaml:"-"`
}

// QualifyID prefixes a bare resource key with the system ID. Already
// qualified IDs pass through unchanged.
func (c AppConfig) QualifyID(key string) string {
	if key == "" {
		return ""
	}
	prefix := c.System.ID + "."
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key
	}
	return prefix + key
}
