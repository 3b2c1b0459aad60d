// SPDX-License-Identifier: LGPL-3.0-or-later

// Package location provides the geographic context of an integrated system.
package location

import (
	"fmt"
	"time"
)

// Location is a convenient container for latitude, longitude, timezone and
// altitude data associated with a particular geographic site.
type Location struct {
	Latitude  float64 // decimal degrees, positive north of the equator
	Longitude float64 // decimal degrees, positive east of the prime meridian
	Altitude  float64 // meters above sea level
	Country   string
	State     string

	timezone *time.Location
}

// New builds a location and resolves the IANA timezone name. An empty
// timezone defaults to UTC.
func New(latitude, longitude float64, timezone string, altitude float64) (*Location, error) {
	if latitude < -90 || latitude > 90 {
		return nil, fmt.Errorf("invalid latitude %v", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("invalid longitude %v", longitude)
	}
	tz := time.UTC
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		tz = loc
	}
	return &Location{
		Latitude:  latitude,
		Longitude: longitude,
		Altitude:  altitude,
		timezone:  tz,
	}, nil
}

// Timezone returns the resolved timezone, defaulting to UTC.
func (l *Location) Timezone() *time.Location {
	if l == nil || l.timezone == nil {
		return time.UTC
	}
	return l.timezone
}

// Now returns the current time in the location's timezone.
func (l *Location) Now() time.Time {
	return time.Now().In(l.Timezone())
}

func (l *Location) String() string {
	return fmt.Sprintf("Location(lat=%.4f, lon=%.4f, tz=%s)", l.Latitude, l.Longitude, l.Timezone())
}
