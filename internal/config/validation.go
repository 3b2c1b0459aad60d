// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks the assembled configuration. It is called by the loader
// and again before a reload is applied; a failing validation must leave the
// previously active configuration untouched.
func Validate(cfg AppConfig) error {
	if !idPattern.MatchString(cfg.System.ID) {
		return fmt.Errorf("invalid system id %q", cfg.System.ID)
	}
	if cfg.System.DataDir == "" {
		return fmt.Errorf("missing system data directory")
	}
	if cfg.Interval.Std() <= 0 {
		return fmt.Errorf("interval must be positive, got %s", cfg.Interval.Std())
	}
	if cfg.Server.Listen == "" {
		return fmt.Errorf("missing server listen address")
	}

	if cfg.Location.Configured() {
		if cfg.Location.Latitude < -90 || cfg.Location.Latitude > 90 {
			return fmt.Errorf("invalid latitude %v", cfg.Location.Latitude)
		}
		if cfg.Location.Longitude < -180 || cfg.Location.Longitude > 180 {
			return fmt.Errorf("invalid longitude %v", cfg.Location.Longitude)
		}
		if cfg.Location.Timezone != "" {
			if _, err := time.LoadLocation(cfg.Location.Timezone); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", cfg.Location.Timezone, err)
			}
		}
	}

	connectorIDs := make(map[string]ConnectorConfig, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		if !idPattern.MatchString(cc.ID) {
			return fmt.Errorf("invalid connector id %q", cc.ID)
		}
		if _, dup := connectorIDs[cc.ID]; dup {
			return fmt.Errorf("duplicate connector id %q", cc.ID)
		}
		if !connector.Known(cc.Type) {
			return fmt.Errorf("connector %q: unknown type %q (known: %v)", cc.ID, cc.Type, connector.Types())
		}
		connectorIDs[cc.ID] = cc
	}

	channelKeys := make(map[string]struct{}, len(cfg.Channels.Entries))
	for _, entry := range ResolveChannels(cfg) {
		if !idPattern.MatchString(entry.Key) {
			return fmt.Errorf("invalid channel key %q", entry.Key)
		}
		if _, dup := channelKeys[entry.Key]; dup {
			return fmt.Errorf("duplicate channel key %q", entry.Key)
		}
		channelKeys[entry.Key] = struct{}{}

		if _, err := core.ParseValueType(entry.Type); err != nil {
			return fmt.Errorf("channel %q: %w", entry.Key, err)
		}
		if entry.Freq.Std() < 0 {
			return fmt.Errorf("channel %q: negative freq", entry.Key)
		}
		for role, binding := range map[string]*BindingConfig{"connector": entry.Connector, "logger": entry.Logger} {
			if binding == nil || binding.Disabled {
				continue
			}
			if binding.Connector == "" {
				return fmt.Errorf("channel %q: %s binding without connector id", entry.Key, role)
			}
			if _, ok := connectorIDs[binding.Connector]; !ok {
				return fmt.Errorf("channel %q: %s references unknown connector %q", entry.Key, role, binding.Connector)
			}
		}
	}

	if cfg.Weather.Enabled {
		if !cfg.Location.Configured() {
			return fmt.Errorf("weather component requires a configured location")
		}
		wc, ok := connectorIDs[cfg.Weather.Connector]
		if !ok {
			return fmt.Errorf("weather component references unknown connector %q", cfg.Weather.Connector)
		}
		if wc.Type != "dwd" {
			return fmt.Errorf("weather connector %q has type %q, want dwd", wc.ID, wc.Type)
		}
	}
	return nil
}

// ResolveChannels applies the channel defaults to every entry, returning
// fully resolved channel configurations.
func ResolveChannels(cfg AppConfig) []ChannelConfig {
	defaults := cfg.Channels.Defaults
	entries := make([]ChannelConfig, 0, len(cfg.Channels.Entries))
	for _, entry := range cfg.Channels.Entries {
		if entry.Type == "" {
			entry.Type = defaults.Type
		}
		if entry.Freq == 0 {
			entry.Freq = defaults.Freq
		}
		if entry.Table == "" {
			entry.Table = defaults.Table
		}
		if entry.Connector == nil && defaults.Connector != nil {
			binding := *defaults.Connector
			entry.Connector = &binding
		}
		if entry.Logger == nil && defaults.Logger != nil {
			binding := *defaults.Logger
			entry.Logger = &binding
		}
		// Channel-level address/table flow into the bindings. The bindings
		// are copied first: the entries share their binding pointers with
		// the stored configuration, which must stay unresolved.
		if entry.Connector != nil && entry.Connector.Address == "" {
			binding := *entry.Connector
			binding.Address = entry.Address
			entry.Connector = &binding
		}
		if entry.Logger != nil && entry.Logger.Table == "" {
			binding := *entry.Logger
			binding.Table = entry.Table
			entry.Logger = &binding
		}
		entries = append(entries, entry)
	}
	return entries
}
