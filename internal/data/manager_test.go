// SPDX-License-Identifier: LGPL-3.0-or-later

package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/isc-konstanz/loris/internal/config"
	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockConnector struct {
	connector.Base

	connectErr error
	readFrame  core.Frame
	readErr    error
	writeErr   error

	mu          sync.Mutex
	reads       int
	writes      []core.Frame
	disconnects int
	onDisc      func(id string)
}

func newMock(id string) *mockConnector {
	return &mockConnector{Base: connector.NewBase(id, "mock")}
}

func (m *mockConnector) Connect(_ context.Context, _ core.Channels) error {
	if m.connectErr != nil {
		return m.connectErr
	}
	m.MarkConnected()
	return nil
}

func (m *mockConnector) Disconnect(context.Context) error {
	m.mu.Lock()
	m.disconnects++
	onDisc := m.onDisc
	m.mu.Unlock()
	if onDisc != nil {
		onDisc(m.ID())
	}
	m.MarkDisconnected()
	return nil
}

func (m *mockConnector) Read(_ context.Context, _ core.Channels, _, _ time.Time) (core.Frame, error) {
	m.mu.Lock()
	m.reads++
	m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.readFrame, nil
}

func (m *mockConnector) Write(_ context.Context, frame core.Frame, _ core.Channels) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	m.writes = append(m.writes, frame)
	m.mu.Unlock()
	return nil
}

func (m *mockConnector) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func readChannel(id, conn string) *core.Channel {
	ch := core.NewChannel(id, id, core.TypeFloat)
	ch.Connector = core.Binding{Connector: conn, Enabled: true}
	return ch
}

func loggedChannel(id, conn, logger string) *core.Channel {
	ch := readChannel(id, conn)
	ch.Logger = core.Binding{Connector: logger, Enabled: true}
	return ch
}

func TestConnectFlagsChannelsOfFailingConnector(t *testing.T) {
	good := newMock("home.good")
	bad := newMock("home.bad")
	bad.connectErr = connector.Errorf("home.bad", "refused")

	chGood := readChannel("home.a", "home.good")
	chBad := readChannel("home.b", "home.bad")
	m := NewManager("home", core.Channels{chGood, chBad}, []connector.Connector{good, bad})

	m.Connect(context.Background())

	assert.True(t, good.Connected())
	assert.False(t, bad.Connected())
	assert.Equal(t, core.StateUnknown, chGood.State(), "untouched until first read")
	assert.Equal(t, core.StateUnknownError, chBad.State())
}

func TestReadAppliesLatestValues(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conn := newMock("home.meter")
	conn.readFrame = core.Frame{"home.power": {
		{Time: ts, Value: 1.0},
		{Time: ts.Add(time.Minute), Value: 2.5},
	}}

	ch := readChannel("home.power", "home.meter")
	m := NewManager("home", core.Channels{ch}, []connector.Connector{conn})

	frame := m.Read(context.Background(), nil, time.Time{}, time.Time{})

	require.Len(t, frame["home.power"], 2)
	assert.Equal(t, 2.5, ch.Value())
	assert.Equal(t, ts.Add(time.Minute), ch.Timestamp())
	assert.True(t, ch.Valid())
	assert.False(t, ch.ReadAt().IsZero())
}

func TestRangedReadLeavesChannelValuesAlone(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conn := newMock("home.meter")
	conn.readFrame = core.Frame{"home.power": {{Time: ts, Value: 1.0}}}

	ch := readChannel("home.power", "home.meter")
	m := NewManager("home", core.Channels{ch}, []connector.Connector{conn})

	frame := m.Read(context.Background(), nil, ts.Add(-time.Hour), ts)

	require.Len(t, frame["home.power"], 1)
	assert.Nil(t, ch.Value())
	assert.Equal(t, core.StateUnknown, ch.State())
}

func TestReadFailureFlagsOnlyAffectedChannels(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	good := newMock("home.good")
	good.readFrame = core.Frame{"home.a": {{Time: ts, Value: 1.0}}}
	bad := newMock("home.bad")
	bad.readErr = connector.Errorf("home.bad", "io failure")

	chGood := readChannel("home.a", "home.good")
	chBad := readChannel("home.b", "home.bad")
	m := NewManager("home", core.Channels{chGood, chBad}, []connector.Connector{good, bad})

	frame := m.Read(context.Background(), nil, time.Time{}, time.Time{})

	assert.True(t, chGood.Valid(), "failing connector must not abort the cycle")
	assert.Equal(t, core.StateUnknownError, chBad.State())
	assert.Len(t, frame, 1)
}

func TestWriteFansOutAndFlagsFailures(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	good := newMock("home.good")
	bad := newMock("home.bad")
	bad.writeErr = connector.Errorf("home.bad", "io failure")

	chGood := readChannel("home.a", "home.good")
	chBad := readChannel("home.b", "home.bad")
	m := NewManager("home", core.Channels{chGood, chBad}, []connector.Connector{good, bad})

	frame := core.Frame{
		"home.a": {{Time: ts, Value: 1.0}},
		"home.b": {{Time: ts, Value: 2.0}},
	}
	m.Write(context.Background(), frame, nil)

	assert.Equal(t, 1, good.writeCount())
	assert.Equal(t, core.StateUnknownError, chBad.State())
	assert.Equal(t, 1.0, chGood.Value())
}

func TestLogPersistsOnlyNewValues(t *testing.T) {
	logger := newMock("home.db")
	ch := loggedChannel("home.power", "home.meter", "home.db")
	m := NewManager("home", core.Channels{ch}, []connector.Connector{logger})

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ch.Set(ts, 1.5))

	m.Log(context.Background(), nil)
	require.Equal(t, 1, logger.writeCount())
	assert.Equal(t, ts, ch.LoggedAt())

	// Unchanged value: nothing to persist.
	m.Log(context.Background(), nil)
	assert.Equal(t, 1, logger.writeCount())

	require.NoError(t, ch.Set(ts.Add(time.Minute), 2.0))
	m.Log(context.Background(), nil)
	assert.Equal(t, 2, logger.writeCount())
}

func TestLogFailureKeepsSamplePending(t *testing.T) {
	logger := newMock("home.db")
	logger.writeErr = connector.Errorf("home.db", "disk full")
	ch := loggedChannel("home.power", "home.meter", "home.db")
	m := NewManager("home", core.Channels{ch}, []connector.Connector{logger})

	require.NoError(t, ch.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 1.5))
	m.Log(context.Background(), nil)

	assert.True(t, ch.LoggedAt().IsZero())
	assert.True(t, ch.NeedsLogging(), "failed log attempt stays pending")
}

func TestDisconnectRunsInReverseOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(id string) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	first := newMock("home.first")
	first.onDisc = record
	second := newMock("home.second")
	second.onDisc = record

	ch := readChannel("home.a", "home.first")
	m := NewManager("home", core.Channels{ch}, []connector.Connector{first, second})

	m.Connect(context.Background())
	m.Disconnect(context.Background())

	assert.Equal(t, []string{"home.second", "home.first"}, order)
	assert.Equal(t, core.StateDisconnected, ch.State())
}

func TestReconnectRetriesOnlyDueConnectors(t *testing.T) {
	conn := newMock("home.meter")
	conn.connectErr = connector.Errorf("home.meter", "refused")
	m := NewManager("home", core.Channels{}, []connector.Connector{conn})

	m.Connect(context.Background())
	require.False(t, conn.Connected())

	conn.connectErr = nil
	m.Reconnect(context.Background(), time.Now().UTC())
	assert.True(t, conn.Connected())

	// A freshly disconnected connector waits out the retry pause.
	require.NoError(t, conn.Disconnect(context.Background()))
	m.Reconnect(context.Background(), time.Now().UTC())
	assert.False(t, conn.Connected())

	m.Reconnect(context.Background(), time.Now().UTC().Add(2*connector.DefaultReconnectInterval))
	assert.True(t, conn.Connected())
}

func TestRegisterNotifiesListeners(t *testing.T) {
	ch := readChannel("home.power", "home.meter")
	m := NewManager("home", core.Channels{ch}, nil)

	var (
		mu      sync.Mutex
		updated []string
	)
	m.Register(func(c *core.Channel) {
		mu.Lock()
		updated = append(updated, c.ID)
		mu.Unlock()
	})

	require.NoError(t, ch.SetNow(1.0))
	assert.Equal(t, []string{"home.power"}, updated)
}

func TestDueChannelsHonourSamplingInterval(t *testing.T) {
	fast := readChannel("home.fast", "home.meter")
	slow := readChannel("home.slow", "home.meter")
	slow.Freq = time.Hour
	unbound := core.NewChannel("home.calc", "calc", core.TypeFloat)

	m := NewManager("home", core.Channels{fast, slow, unbound}, nil)

	now := time.Now().UTC()
	assert.ElementsMatch(t, []string{"home.fast", "home.slow"}, m.DueChannels(now).IDs())

	slow.MarkRead(now)
	assert.Equal(t, []string{"home.fast"}, m.DueChannels(now.Add(time.Minute)).IDs())
	assert.ElementsMatch(t, []string{"home.fast", "home.slow"}, m.DueChannels(now.Add(2*time.Hour)).IDs())
}

func TestSetupBuildsQualifiedResources(t *testing.T) {
	if !connector.Known("mock") {
		connector.Register("mock", func(id string, settings connector.Settings) (connector.Connector, error) {
			return newMock(id), nil
		})
	}

	cfg := config.AppConfig{
		System:   config.SystemConfig{ID: "home"},
		Location: config.LocationConfig{Latitude: 47.67, Longitude: 9.17, Timezone: "Europe/Berlin"},
		Connectors: []config.ConnectorConfig{
			{ID: "meter", Type: "mock"},
			{ID: "off", Type: "mock", Disabled: true},
		},
		Channels: config.ChannelsConfig{
			Defaults: config.ChannelDefaults{
				Type:      "float",
				Connector: &config.BindingConfig{Connector: "meter"},
			},
			Entries: []config.ChannelConfig{
				{Key: "power"},
				{Key: "ignored", Disabled: true},
			},
		},
	}

	m, err := Setup(cfg)
	require.NoError(t, err)

	require.Len(t, m.Connectors(), 1, "disabled connectors are skipped")
	assert.Equal(t, "home.meter", m.Connectors()[0].ID())

	require.Len(t, m.Channels(), 1, "disabled channels are skipped")
	ch := m.Channels()[0]
	assert.Equal(t, "home.power", ch.ID)
	assert.Equal(t, "power", ch.Key)
	assert.True(t, ch.HasConnector("home.meter"))

	require.NotNil(t, m.Location())
	assert.Equal(t, "Europe/Berlin", m.Location().Timezone().String())
}
