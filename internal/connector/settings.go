// SPDX-License-Identifier: LGPL-3.0-or-later

package connector

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings holds the per-connector configuration section as decoded from
// the config file. Values may arrive as strings, numbers or booleans
// depending on how they were written in YAML.
type Settings map[string]any

// String returns a setting as string, or the default when absent.
func (s Settings) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// RequireString returns a setting as string, failing when absent or empty.
func (s Settings) RequireString(key string) (string, error) {
	v := strings.TrimSpace(s.String(key, ""))
	if v == "" {
		return "", fmt.Errorf("missing required setting %q", key)
	}
	return v, nil
}

// Int returns a setting as int, or the default when absent or unparseable.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// Float returns a setting as float64, or the default.
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns a setting as bool, or the default.
func (s Settings) Bool(key string, def bool) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Duration returns a setting parsed as time.Duration, or the default.
// Plain numbers are interpreted as seconds.
func (s Settings) Duration(key string, def time.Duration) time.Duration {
	switch v := s[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
