// SPDX-License-Identifier: LGPL-3.0-or-later

package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannels() core.Channels {
	power := core.NewChannel("home.power", "power", core.TypeFloat)
	power.Logger = core.Binding{Connector: "home.cache", Enabled: true}
	mode := core.NewChannel("home.mode", "mode", core.TypeString)
	mode.Logger = core.Binding{Connector: "home.cache", Enabled: true}
	return core.Channels{power, mode}
}

func openTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	cache, err := New("home.cache", connector.Settings{"addr": srv.Addr()})
	require.NoError(t, err)
	require.NoError(t, cache.Connect(context.Background(), testChannels()))
	t.Cleanup(func() { _ = cache.Disconnect(context.Background()) })
	return cache, srv
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New("home.cache", connector.Settings{})
	assert.Error(t, err)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	cache, err := New("home.cache", connector.Settings{"addr": "127.0.0.1:1"})
	require.NoError(t, err)

	err = cache.Connect(context.Background(), nil)
	require.Error(t, err)

	var connErr *connector.Error
	assert.ErrorAs(t, err, &connErr)
}

func TestWriteAndReadLatest(t *testing.T) {
	cache, srv := openTestCache(t)
	channels := testChannels()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := core.Frame{
		"home.power": {
			{Time: ts, Value: 1.0},
			{Time: ts.Add(time.Minute), Value: 2.5},
		},
		"home.mode": {{Time: ts, Value: "charging"}},
	}
	require.NoError(t, cache.Write(context.Background(), frame, channels))

	assert.True(t, srv.Exists("loris:home.power"))

	got, err := cache.Read(context.Background(), channels, time.Time{}, time.Time{})
	require.NoError(t, err)

	power, ok := got.Last("home.power")
	require.True(t, ok)
	assert.Equal(t, 2.5, power.Value, "only the latest sample is cached")
	assert.Equal(t, ts.Add(time.Minute), power.Time)

	mode, ok := got.Last("home.mode")
	require.True(t, ok)
	assert.Equal(t, "charging", mode.Value)
}

func TestReadSkipsMissingChannels(t *testing.T) {
	cache, _ := openTestCache(t)

	got, err := cache.Read(context.Background(), testChannels(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestRangedReadUnsupported(t *testing.T) {
	cache, _ := openTestCache(t)

	_, err := cache.Read(context.Background(), testChannels(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ranged reads are not supported")
}

func TestWriteAppliesTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	cache, err := New("home.cache", connector.Settings{"addr": srv.Addr(), "ttl": "1m"})
	require.NoError(t, err)
	require.NoError(t, cache.Connect(context.Background(), nil))

	frame := core.Frame{"home.power": {{Time: time.Now().UTC(), Value: 1.0}}}
	require.NoError(t, cache.Write(context.Background(), frame, testChannels()))

	assert.Greater(t, srv.TTL("loris:home.power"), time.Duration(0))
}
