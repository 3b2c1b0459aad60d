// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty configPath means
// ENV-only configuration.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load assembles the effective configuration: defaults, then a strict parse
// of the file, then environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return AppConfig{}, err
		}
	}
	l.mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		System: SystemConfig{
			ID:      "loris",
			DataDir: "/var/lib/loris",
		},
		Server: ServerConfig{
			Listen:          ":8080",
			MetricsListen:   ":9090",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging:  LoggingConfig{Level: "info"},
		Interval: Duration(time.Minute),
	}
}

func (l *Loader) mergeFile(cfg *AppConfig) error {
	f, err := os.Open(l.configPath)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Strict decode: unknown keys are configuration mistakes.
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.System.ID = ParseString("LORIS_SYSTEM_ID", cfg.System.ID)
	cfg.System.Name = ParseString("LORIS_SYSTEM_NAME", cfg.System.Name)
	cfg.System.DataDir = ParseString("LORIS_DATA", cfg.System.DataDir)

	cfg.Server.Listen = ParseString("LORIS_LISTEN", cfg.Server.Listen)
	cfg.Server.MetricsListen = ParseString("LORIS_METRICS_LISTEN", cfg.Server.MetricsListen)

	cfg.Logging.Level = ParseString("LORIS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Interval = Duration(ParseDuration("LORIS_INTERVAL", cfg.Interval.Std()))
}
