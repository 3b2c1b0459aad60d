// SPDX-License-Identifier: LGPL-3.0-or-later

package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSetConvertsValue(t *testing.T) {
	ch := NewChannel("system.power", "power", TypeFloat)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ch.Set(ts, "42.5"))
	assert.Equal(t, 42.5, ch.Value())
	assert.Equal(t, ts, ch.Timestamp())
	assert.Equal(t, StateValid, ch.State())
	assert.True(t, ch.Valid())
}

func TestChannelSetRejectsInvalidValue(t *testing.T) {
	ch := NewChannel("system.power", "power", TypeFloat)
	ts := time.Now().UTC()

	require.NoError(t, ch.Set(ts, 1.0))
	err := ch.Set(ts.Add(time.Second), "not-a-number")
	require.Error(t, err)

	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "system.power", resErr.ID)

	// Previous value must survive a failed conversion.
	assert.Equal(t, 1.0, ch.Value())
	assert.Equal(t, ts, ch.Timestamp())
}

func TestChannelSetStateClearsValue(t *testing.T) {
	ch := NewChannel("system.power", "power", TypeFloat)
	require.NoError(t, ch.SetNow(1.0))
	require.True(t, ch.Valid())

	ch.SetState(StateUnknownError)
	assert.False(t, ch.Valid())
	assert.Nil(t, ch.Value())
	assert.True(t, ch.State().Error())
}

func TestChannelNotifiesOnValidUpdate(t *testing.T) {
	ch := NewChannel("system.power", "power", TypeInt)

	var notified int
	ch.OnUpdate(func(c *Channel) { notified++ })

	require.NoError(t, ch.SetNow(3))
	ch.SetState(StateUnavailable)
	require.NoError(t, ch.SetNow(4))

	assert.Equal(t, 2, notified)
}

func TestChannelNeedsLogging(t *testing.T) {
	ch := NewChannel("system.power", "power", TypeFloat)
	assert.False(t, ch.NeedsLogging(), "invalid channel must not be logged")

	require.NoError(t, ch.SetNow(1.0))
	assert.True(t, ch.NeedsLogging())

	ch.MarkLogged()
	assert.False(t, ch.NeedsLogging(), "unchanged value must not be logged twice")

	require.NoError(t, ch.Set(ch.Timestamp().Add(time.Second), 2.0))
	assert.True(t, ch.NeedsLogging())
}

func TestChannelDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ch := NewChannel("system.temp", "temp", TypeFloat)
	assert.True(t, ch.Due(now), "zero freq channels are always due")

	ch.Freq = time.Minute
	assert.True(t, ch.Due(now), "never read channels are due")

	ch.MarkRead(now)
	assert.False(t, ch.Due(now.Add(30*time.Second)))
	assert.True(t, ch.Due(now.Add(time.Minute)))
}

func TestChannelBindings(t *testing.T) {
	ch := NewChannel("system.power", "power", TypeFloat)
	ch.Connector = Binding{Connector: "system.modbus", Enabled: true}
	ch.Logger = Binding{Connector: "system.db", Enabled: true, Table: "power"}

	assert.True(t, ch.HasConnector("system.modbus"))
	assert.False(t, ch.HasConnector("system.db"))
	assert.True(t, ch.HasLogger())
	assert.True(t, ch.HasLogger("system.db"))
	assert.False(t, ch.HasLogger("system.modbus"))
	assert.True(t, ch.BoundTo("system.db"))

	ch.Logger.Enabled = false
	assert.False(t, ch.HasLogger())
}

func TestParseValueType(t *testing.T) {
	cases := []struct {
		in   string
		want ValueType
	}{
		{"", TypeFloat},
		{"float", TypeFloat},
		{"double", TypeFloat},
		{"Int", TypeInt},
		{"boolean", TypeBool},
		{"str", TypeString},
	}
	for _, tc := range cases {
		got, err := ParseValueType(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseValueType("complex")
	assert.Error(t, err)
}
