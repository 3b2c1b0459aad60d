// SPDX-License-Identifier: LGPL-3.0-or-later

package daemon

import (
	"context"
	"fmt"
	"net/http"
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
)

type cycleConnector struct {
	connector.Base

	mu    sync.Mutex
	reads int
}

func (c *cycleConnector) Connect(context.Context, core.Channels) error {
	c.MarkConnected()
	return nil
}

func (c *cycleConnector) Disconnect(context.Context) error {
	c.MarkDisconnected()
	return nil
}

func (c *cycleConnector) Read(context.Context, core.Channels, time.Time, time.Time) (core.Frame, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return core.Frame{"home.power": {{Time: time.Now().UTC(), Value: 1.0}}}, nil
}

func (c *cycleConnector) Write(context.Context, core.Frame, core.Channels) error {
	return nil
}

func (c *cycleConnector) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func testDaemon(t *testing.T) (*Manager, *cycleConnector) {
	t.Helper()

	conn := &cycleConnector{Base: connector.NewBase("home.meter", "mock")}
	ch := core.NewChannel("home.power", "power", core.TypeFloat)
	ch.Connector = core.Binding{Connector: "home.meter", Enabled: true}
	dataMgr := data.NewManager("home", core.Channels{ch}, []connector.Connector{conn})

	holder := config.NewHolder(config.AppConfig{
		System: config.SystemConfig{ID: "home", DataDir: t.TempDir()},
		Server: config.ServerConfig{
			Listen:          "127.0.0.1:0",
			ShutdownTimeout: config.Duration(2 * time.Second),
		},
		// Long interval: cycles in tests run through Refresh only.
		Interval: config.Duration(time.Hour),
	}, nil, "")

	return New(holder, dataMgr, health.NewManager("test"), nil), conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartRunsInitialCycleAndStopsCleanly(t *testing.T) {
	d, conn := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool { return conn.readCount() >= 1 }, "initial cycle did not run")
	assert.True(t, conn.Connected())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.False(t, conn.Connected(), "connectors disconnect on shutdown")
}

func TestRefreshTriggersCycle(t *testing.T) {
	d, conn := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool { return conn.readCount() >= 1 }, "initial cycle did not run")

	d.Refresh()
	waitFor(t, func() bool { return conn.readCount() >= 2 }, "refresh did not trigger a cycle")

	cancel()
	<-done
}

func TestStartTwiceFails(t *testing.T) {
	d, _ := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)

	err := d.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	cancel()
	<-done
}

func TestShutdownHooksRunInReverseOrder(t *testing.T) {
	d, _ := testDaemon(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	d.RegisterShutdownHook("first", record("first"))
	d.RegisterShutdownHook("second", record("second"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestShutdownReportsHookFailures(t *testing.T) {
	d, _ := testDaemon(t)
	d.RegisterShutdownHook("broken", func(context.Context) error {
		return fmt.Errorf("cleanup failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup failed")
}

func TestServeHTTPDuringRun(t *testing.T) {
	conn := &cycleConnector{Base: connector.NewBase("home.meter", "mock")}
	ch := core.NewChannel("home.power", "power", core.TypeFloat)
	ch.Connector = core.Binding{Connector: "home.meter", Enabled: true}
	dataMgr := data.NewManager("home", core.Channels{ch}, []connector.Connector{conn})

	holder := config.NewHolder(config.AppConfig{
		System:   config.SystemConfig{ID: "home", DataDir: t.TempDir()},
		Server:   config.ServerConfig{Listen: "127.0.0.1:18947", ShutdownTimeout: config.Duration(2 * time.Second)},
		Interval: config.Duration(time.Hour),
	}, nil, "")
	d := New(holder, dataMgr, health.NewManager("test"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18947/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "api server did not come up")

	cancel()
	require.NoError(t, <-done)
}
