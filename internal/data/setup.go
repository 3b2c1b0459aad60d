// SPDX-License-Identifier: LGPL-3.0-or-later

package data

import (
	"fmt"
	"time"

	"github.com/isc-konstanz/loris/internal/config"
	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/location"
	"github.com/isc-konstanz/loris/internal/weather"
)

// Setup assembles the data manager from a validated configuration:
// connectors are instantiated through the registry, channel defaults are
// resolved and the canonical weather channels are appended when the weather
// component is enabled.
func Setup(cfg config.AppConfig) (*Manager, error) {
	connectors := make([]connector.Connector, 0, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		if cc.Disabled {
			continue
		}
		conn, err := connector.New(cc.Type, cfg.QualifyID(cc.ID), connectorSettings(cfg, cc))
		if err != nil {
			return nil, fmt.Errorf("setup connector %q: %w", cc.ID, err)
		}
		connectors = append(connectors, conn)
	}

	channels, err := buildChannels(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Weather.Enabled {
		channels = append(channels, weather.Channels(
			cfg.System.ID,
			cfg.QualifyID(cfg.Weather.Connector),
			weatherFreq(cfg.Weather),
		)...)
	}
	m := NewManager(cfg.System.ID, channels, connectors)
	if cfg.Location.Configured() {
		loc, err := location.New(cfg.Location.Latitude, cfg.Location.Longitude,
			cfg.Location.Timezone, cfg.Location.Altitude)
		if err != nil {
			return nil, fmt.Errorf("setup location: %w", err)
		}
		m.SetLocation(loc)
	}
	return m, nil
}

// connectorSettings injects the system location into weather connectors
// that do not carry their own position.
func connectorSettings(cfg config.AppConfig, cc config.ConnectorConfig) connector.Settings {
	if cc.Type != "dwd" || !cfg.Location.Configured() {
		return cc.Settings
	}
	settings := make(connector.Settings, len(cc.Settings)+2)
	for k, v := range cc.Settings {
		settings[k] = v
	}
	if _, ok := settings["latitude"]; !ok {
		settings["latitude"] = cfg.Location.Latitude
	}
	if _, ok := settings["longitude"]; !ok {
		settings["longitude"] = cfg.Location.Longitude
	}
	return settings
}

func weatherFreq(wc config.WeatherConfig) time.Duration {
	if wc.Interval.Std() > 0 {
		return wc.Interval.Std()
	}
	return weather.DefaultInterval
}

func buildChannels(cfg config.AppConfig) (core.Channels, error) {
	disabled := make(map[string]bool, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		disabled[cc.ID] = cc.Disabled
	}

	entries := config.ResolveChannels(cfg)
	channels := make(core.Channels, 0, len(entries))
	for _, entry := range entries {
		if entry.Disabled {
			continue
		}
		typ, err := core.ParseValueType(entry.Type)
		if err != nil {
			return nil, fmt.Errorf("setup channel %q: %w", entry.Key, err)
		}
		ch := core.NewChannel(cfg.QualifyID(entry.Key), entry.Key, typ)
		ch.Name = entry.Name
		ch.Freq = entry.Freq.Std()
		ch.Connector = binding(cfg, entry.Connector, disabled)
		ch.Logger = binding(cfg, entry.Logger, disabled)
		channels = append(channels, ch)
	}
	return channels, nil
}

func binding(cfg config.AppConfig, bc *config.BindingConfig, disabled map[string]bool) core.Binding {
	if bc == nil || bc.Connector == "" {
		return core.Binding{}
	}
	return core.Binding{
		Connector: cfg.QualifyID(bc.Connector),
		Enabled:   !bc.Disabled && !disabled[bc.Connector],
		Address:   bc.Address,
		Table:     bc.Table,
	}
}
