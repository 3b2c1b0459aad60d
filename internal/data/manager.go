// SPDX-License-Identifier: LGPL-3.0-or-later

// Package data implements the data manager coordinating channels and
// connectors: reads, writes and log cycles fan out per connector and a
// failing connector flags its channels instead of aborting the cycle.
package data

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/location"
	"github.com/isc-konstanz/loris/internal/log"
	"github.com/isc-konstanz/loris/internal/metrics"
)

// Manager owns the channels and connectors of one integrated system.
type Manager struct {
	systemID string
	logger   zerolog.Logger

	channels   core.Channels
	connectors []connector.Connector
	byID       map[string]connector.Connector
	location   *location.Location // nil when no site is configured

	parallel int

	listenerMu sync.RWMutex
	listeners  []func(*core.Channel)
}

// NewManager assembles a manager from prepared channels and connectors.
// Connector order is preserved; disconnects run in reverse.
func NewManager(systemID string, channels core.Channels, connectors []connector.Connector) *Manager {
	m := &Manager{
		systemID:   systemID,
		logger:     log.WithComponent("data"),
		channels:   channels,
		connectors: connectors,
		byID:       make(map[string]connector.Connector, len(connectors)),
		parallel:   max(runtime.GOMAXPROCS(0)/2, 1),
	}
	for _, conn := range connectors {
		m.byID[conn.ID()] = conn
	}
	for _, ch := range channels {
		ch.OnUpdate(m.notify)
	}
	return m
}

// SystemID returns the ID of the managed system.
func (m *Manager) SystemID() string {
	return m.systemID
}

// SetLocation attaches the geographic site of the system.
func (m *Manager) SetLocation(loc *location.Location) {
	m.location = loc
}

// Location returns the site of the system, or nil when none is configured.
func (m *Manager) Location() *location.Location {
	return m.location
}

// Channels returns all managed channels.
func (m *Manager) Channels() core.Channels {
	return m.channels
}

// Channel returns a managed channel by ID.
func (m *Manager) Channel(id string) (*core.Channel, bool) {
	return m.channels.Get(id)
}

// Connectors returns the managed connectors in connect order.
func (m *Manager) Connectors() []connector.Connector {
	return m.connectors
}

// Connector returns a managed connector by ID.
func (m *Manager) Connector(id string) (connector.Connector, bool) {
	conn, ok := m.byID[id]
	return conn, ok
}

// Register adds a listener invoked for every valid channel update.
func (m *Manager) Register(fn func(*core.Channel)) {
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenerMu.Unlock()
}

func (m *Manager) notify(ch *core.Channel) {
	m.listenerMu.RLock()
	listeners := m.listeners
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ch)
	}
}

// Connect opens all connectors in parallel. A failing connector logs a
// warning and flags the channels it reads; the remaining connectors are
// unaffected.
func (m *Manager) Connect(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(m.parallel)

	for _, conn := range m.connectors {
		conn := conn
		bound := m.channels.Filter(func(c *core.Channel) bool { return c.BoundTo(conn.ID()) })
		group.Go(func() error {
			m.connect(ctx, conn, bound)
			return nil
		})
	}
	_ = group.Wait()
	m.recordChannelMetrics()
}

func (m *Manager) connect(ctx context.Context, conn connector.Connector, bound core.Channels) {
	m.logger.Info().
		Str(log.FieldEvent, "connector.connect").
		Str(log.FieldConnectorID, conn.ID()).
		Int(log.FieldChannels, len(bound)).
		Msg("connecting")

	if err := conn.Connect(ctx, bound); err != nil {
		m.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "connector.connect_failed").
			Str(log.FieldConnectorID, conn.ID()).
			Msg("error opening connector")
		bound.Filter(func(c *core.Channel) bool { return c.HasConnector(conn.ID()) }).
			SetState(core.StateUnknownError)
	}
	metrics.RecordConnectorUp(conn.ID(), conn.Connected())
}

type reconnectable interface {
	Reconnectable(time.Time) bool
}

// Reconnect retries disconnected connectors whose retry pause has elapsed.
func (m *Manager) Reconnect(ctx context.Context, now time.Time) {
	for _, conn := range m.connectors {
		r, ok := conn.(reconnectable)
		if conn.Connected() || (ok && !r.Reconnectable(now)) {
			continue
		}
		bound := m.channels.Filter(func(c *core.Channel) bool { return c.BoundTo(conn.ID()) })
		m.connect(ctx, conn, bound)
	}
}

// Disconnect closes the connectors in reverse connect order.
func (m *Manager) Disconnect(ctx context.Context) {
	for i := len(m.connectors) - 1; i >= 0; i-- {
		conn := m.connectors[i]
		if !conn.Connected() {
			continue
		}
		bound := m.channels.Filter(func(c *core.Channel) bool { return c.HasConnector(conn.ID()) })
		bound.SetState(core.StateDisconnecting)

		m.logger.Info().
			Str(log.FieldEvent, "connector.disconnect").
			Str(log.FieldConnectorID, conn.ID()).
			Msg("disconnecting")
		if err := conn.Disconnect(ctx); err != nil {
			m.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "connector.disconnect_failed").
				Str(log.FieldConnectorID, conn.ID()).
				Msg("error closing connector")
		}
		bound.SetState(core.StateDisconnected)
		metrics.RecordConnectorUp(conn.ID(), false)
	}
}

// Read fetches samples for the given channels (all when nil), fanning out
// per connector. With zero bounds the latest values are applied to the
// channels. Per-connector failures flag the affected channels.
func (m *Manager) Read(ctx context.Context, channels core.Channels, start, end time.Time) core.Frame {
	if channels == nil {
		channels = m.channels
	}
	now := time.Now().UTC()
	latest := start.IsZero() && end.IsZero()

	var (
		frameMu sync.Mutex
		frame   = make(core.Frame)
	)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(m.parallel)

	for _, conn := range m.connectors {
		conn := conn
		bound := channels.Filter(func(c *core.Channel) bool { return c.HasConnector(conn.ID()) })
		if len(bound) == 0 {
			continue
		}
		group.Go(func() error {
			m.logger.Debug().
				Str(log.FieldEvent, "connector.read").
				Str(log.FieldConnectorID, conn.ID()).
				Int(log.FieldChannels, len(bound)).
				Msg("reading channels")

			result, err := conn.Read(ctx, bound, start, end)
			metrics.IncRead(conn.ID(), err)
			if err != nil {
				m.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "connector.read_failed").
					Str(log.FieldConnectorID, conn.ID()).
					Str(log.FieldState, string(core.StateUnknownError)).
					Msg("error reading connector")
				bound.SetState(core.StateUnknownError)
				return nil
			}

			for _, c := range bound {
				if latest {
					if rec, ok := result.Last(c.ID); ok {
						if err := c.Set(rec.Time, rec.Value); err != nil {
							m.logger.Warn().
								Err(err).
								Str(log.FieldEvent, "channel.set_failed").
								Str(log.FieldChannelID, c.ID).
								Msg("discarding unconvertible value")
							c.SetState(core.StateUnknownError)
							continue
						}
					}
				}
				c.MarkRead(now)
			}

			frameMu.Lock()
			frame.Merge(result)
			frameMu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	m.recordChannelMetrics()
	return frame
}

// Write applies the frame values to the channels and fans the frame out to
// their connectors.
func (m *Manager) Write(ctx context.Context, frame core.Frame, channels core.Channels) {
	if channels == nil {
		channels = m.channels
	}

	// Update the channel values before pushing them out.
	for _, c := range channels {
		if rec, ok := frame.Last(c.ID); ok {
			if err := c.Set(rec.Time, rec.Value); err != nil {
				m.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "channel.set_failed").
					Str(log.FieldChannelID, c.ID).
					Msg("rejecting write value")
			}
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(m.parallel)

	for _, conn := range m.connectors {
		conn := conn
		bound := channels.Filter(func(c *core.Channel) bool {
			return c.HasConnector(conn.ID()) && len(frame[c.ID]) > 0
		})
		if len(bound) == 0 {
			continue
		}
		group.Go(func() error {
			err := conn.Write(ctx, frame, bound)
			metrics.IncWrite(conn.ID(), err)
			if err != nil {
				m.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "connector.write_failed").
					Str(log.FieldConnectorID, conn.ID()).
					Msg("error writing connector")
				bound.SetState(core.StateUnknownError)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// Log persists valid channel values that are newer than their last logged
// sample, grouped by logger connector.
func (m *Manager) Log(ctx context.Context, channels core.Channels) {
	if channels == nil {
		channels = m.channels
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(m.parallel)

	for _, conn := range m.connectors {
		conn := conn
		due := channels.Filter(func(c *core.Channel) bool {
			return c.HasLogger(conn.ID()) && c.NeedsLogging()
		})
		if len(due) == 0 {
			continue
		}
		group.Go(func() error {
			m.logger.Debug().
				Str(log.FieldEvent, "connector.log").
				Str(log.FieldConnectorID, conn.ID()).
				Int(log.FieldChannels, len(due)).
				Msg("logging channels")

			err := conn.Write(ctx, due.Frame(), due)
			metrics.IncWrite(conn.ID(), err)
			if err != nil {
				m.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "connector.log_failed").
					Str(log.FieldConnectorID, conn.ID()).
					Msg("error logging connector")
				return nil
			}
			for _, c := range due {
				c.MarkLogged()
			}
			metrics.AddLogged(conn.ID(), len(due))
			return nil
		})
	}
	_ = group.Wait()
}

// DueChannels returns the readable channels due at the given instant.
func (m *Manager) DueChannels(now time.Time) core.Channels {
	return m.channels.Filter(func(c *core.Channel) bool {
		return c.Connector.Bound() && c.Due(now)
	})
}

func (m *Manager) recordChannelMetrics() {
	valid := 0
	for _, c := range m.channels {
		if c.Valid() {
			valid++
		}
	}
	metrics.RecordChannels(len(m.channels), valid)
}
