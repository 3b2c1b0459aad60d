// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isc-konstanz/loris/internal/config"
	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/data"
	"github.com/isc-konstanz/loris/internal/health"
	"github.com/isc-konstanz/loris/internal/weather"
)

type stubConnector struct {
	connector.Base

	readFrame core.Frame

	mu     sync.Mutex
	writes []core.Frame
}

func (s *stubConnector) Connect(context.Context, core.Channels) error {
	s.MarkConnected()
	return nil
}

func (s *stubConnector) Disconnect(context.Context) error {
	s.MarkDisconnected()
	return nil
}

func (s *stubConnector) Read(context.Context, core.Channels, time.Time, time.Time) (core.Frame, error) {
	return s.readFrame, nil
}

func (s *stubConnector) Write(_ context.Context, frame core.Frame, _ core.Channels) error {
	s.mu.Lock()
	s.writes = append(s.writes, frame)
	s.mu.Unlock()
	return nil
}

func (s *stubConnector) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type testServer struct {
	router    http.Handler
	conn      *stubConnector
	channel   *core.Channel
	refreshes int
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithForecast(t, nil)
}

func newTestServerWithForecast(t *testing.T, forecast *weather.Forecast) *testServer {
	t.Helper()

	conn := &stubConnector{Base: connector.NewBase("home.meter", "mock")}
	ch := core.NewChannel("home.power", "power", core.TypeFloat)
	ch.Name = "Active Power"
	ch.Connector = core.Binding{Connector: "home.meter", Enabled: true}

	manager := data.NewManager("home", core.Channels{ch}, []connector.Connector{conn})
	holder := config.NewHolder(config.AppConfig{
		System:   config.SystemConfig{ID: "home", Name: "Test Home"},
		Interval: config.Duration(time.Minute),
		Version:  "1.2.3",
	}, nil, "")

	ts := &testServer{conn: conn, channel: ch}
	srv := NewServer(manager, holder, health.NewManager("1.2.3"), forecast, func() { ts.refreshes++ })
	ts.router = srv.Router()
	return ts
}

func (ts *testServer) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "home", resp.System)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "1m0s", resp.Interval)
	require.Len(t, resp.Connectors, 1)
	assert.Equal(t, "home.meter", resp.Connectors[0].ID)
	assert.False(t, resp.Connectors[0].Connected)
	assert.Equal(t, 1, resp.Channels.Total)
}

func TestChannelList(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.channel.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 4.2))

	rec := ts.request(t, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []channelSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "home.power", resp[0].ID)
	assert.Equal(t, "valid", resp[0].State)
	assert.Equal(t, 4.2, resp[0].Value)
}

func TestChannelDetail(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/channels/home.power", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp channelSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "power", resp.Key)
	assert.Equal(t, "unknown", resp.State)
	assert.Nil(t, resp.Value)
}

func TestChannelNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/channels/home.nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannelRangedRead(t *testing.T) {
	ts := newTestServer(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.conn.readFrame = core.Frame{"home.power": {
		{Time: base, Value: 1.0},
		{Time: base.Add(time.Hour), Value: 2.0},
	}}

	rec := ts.request(t, http.MethodGet,
		"/api/channels/home.power?start=2026-03-01T11:00:00Z&end=2026-03-01T14:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp seriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
	assert.Equal(t, 2.0, resp.Records[1].Value)

	// Ranged reads leave the live channel value untouched.
	assert.Equal(t, "unknown", string(ts.channel.State()))
}

func TestChannelRangedReadRejectsBadTimestamps(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/channels/home.power?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelWrite(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPut, "/api/channels/home.power",
		`{"value": 3.5, "timestamp": "2026-03-01T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp channelSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3.5, resp.Value)
	assert.Equal(t, "valid", resp.State)

	assert.Equal(t, 3.5, ts.channel.Value())
	assert.Equal(t, 1, ts.conn.writeCount(), "write fans out to the connector")
}

func TestChannelWriteRejectsUnconvertibleValue(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPut, "/api/channels/home.power", `{"value": "not a number"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, ts.channel.Value())
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ts.refreshes)
}

type forecastReader struct {
	frame core.Frame
}

func (r forecastReader) Read(context.Context, core.Channels, time.Time, time.Time) core.Frame {
	return r.frame
}

func TestWeatherForecast(t *testing.T) {
	ts2 := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	reader := forecastReader{frame: core.Frame{
		"home.weather.temp_air": {{Time: ts2, Value: 9.1}},
		"home.weather.ghi":      {{Time: ts2, Value: 120.0}},
	}}
	channels := weather.Channels("home", "home.weather", 0)
	forecast := weather.NewForecast(reader, channels, time.Hour, 0)
	ts := newTestServerWithForecast(t, forecast)

	rec := ts.request(t, http.MethodGet, "/api/weather/forecast", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "nothing fetched yet")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	forecast.Fetch(context.Background(), now)

	rec = ts.request(t, http.MethodGet, "/api/weather/forecast", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp forecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, now, resp.FetchedAt.UTC())
	require.Len(t, resp.Series, 2)
	assert.Equal(t, "home.weather.ghi", resp.Series[0].ID)
	assert.Equal(t, "home.weather.temp_air", resp.Series[1].ID)
	require.Len(t, resp.Series[1].Records, 1)
	assert.Equal(t, 9.1, resp.Series[1].Records[0].Value)
}

func TestWeatherForecastDisabled(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/weather/forecast", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProbeEndpoints(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.request(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, ts.request(t, http.MethodGet, "/readyz", "").Code)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/status", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	echo := httptest.NewRecorder()
	ts.router.ServeHTTP(echo, req)
	assert.Equal(t, "fixed-id", echo.Header().Get("X-Request-ID"))
}
