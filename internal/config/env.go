// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseString returns the environment value for key, or the default.
func ParseString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// ParseInt returns the environment value parsed as int, or the default.
func ParseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// ParseBool returns the environment value parsed as bool, or the default.
func ParseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// ParseFloat returns the environment value parsed as float64, or the default.
func ParseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// ParseDuration returns the environment value parsed as duration, or the
// default. Bare numbers are interpreted as seconds.
func ParseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		v = strings.TrimSpace(v)
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
