// SPDX-License-Identifier: LGPL-3.0-or-later

package location

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	loc, err := New(47.66, 9.17, "Europe/Berlin", 400)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.Timezone().String())
	assert.Equal(t, 400.0, loc.Altitude)
}

func TestNewDefaultsToUTC(t *testing.T) {
	loc, err := New(0, 0, "", 0)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc.Timezone())
}

func TestNewRejectsInvalidCoordinates(t *testing.T) {
	_, err := New(91, 0, "", 0)
	assert.Error(t, err)

	_, err = New(0, -181, "", 0)
	assert.Error(t, err)

	_, err = New(0, 0, "Mars/Olympus", 0)
	assert.Error(t, err)
}

func TestNilTimezone(t *testing.T) {
	var loc *Location
	assert.Equal(t, time.UTC, loc.Timezone())
}
