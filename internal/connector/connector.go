// SPDX-License-Identifier: LGPL-3.0-or-later

// Package connector defines the adapter contract between the data manager
// and protocol or storage backends.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isc-konstanz/loris/internal/core"
)

// DefaultReconnectInterval is the minimum pause before a disconnected
// connector is retried.
const DefaultReconnectInterval = time.Minute

// Connector is a single protocol or storage adapter. Implementations are
// registered by type and instantiated from configuration.
type Connector interface {
	ID() string
	Type() string

	// Connect opens the backend for the channels bound to this connector.
	Connect(ctx context.Context, channels core.Channels) error
	// Disconnect releases the backend. Implementations must tolerate being
	// called on an already closed connector.
	Disconnect(ctx context.Context) error

	// Read fetches samples for the given channels. A zero start and end
	// requests the latest known sample per channel.
	Read(ctx context.Context, channels core.Channels, start, end time.Time) (core.Frame, error)
	// Write persists the frame columns belonging to the given channels.
	Write(ctx context.Context, frame core.Frame, channels core.Channels) error

	Connected() bool
}

// Error wraps a failure of a specific connector so callers can flag the
// affected channels without aborting the cycle.
type Error struct {
	Connector string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connector %s: %v", e.Connector, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a connector error with a formatted cause.
func Errorf(id, format string, args ...any) *Error {
	return &Error{Connector: id, Err: fmt.Errorf(format, args...)}
}

// Base carries the common identity and connection-state bookkeeping of a
// connector implementation.
type Base struct {
	id  string
	typ string

	mu             sync.Mutex
	connected      bool
	connectedAt    time.Time
	disconnectedAt time.Time

	// ReconnectInterval overrides the default retry pause when positive.
	ReconnectInterval time.Duration
}

// NewBase initialises the shared connector state.
func NewBase(id, typ string) Base {
	return Base{id: id, typ: typ}
}

func (b *Base) ID() string {
	return b.id
}

func (b *Base) Type() string {
	return b.typ
}

// Connected reports whether the connector is currently open.
func (b *Base) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// MarkConnected records a successful connect.
func (b *Base) MarkConnected() {
	b.mu.Lock()
	b.connected = true
	b.connectedAt = time.Now().UTC()
	b.disconnectedAt = time.Time{}
	b.mu.Unlock()
}

// MarkDisconnected records a disconnect or connection loss.
func (b *Base) MarkDisconnected() {
	b.mu.Lock()
	b.connected = false
	b.disconnectedAt = time.Now().UTC()
	b.connectedAt = time.Time{}
	b.mu.Unlock()
}

// Reconnectable reports whether a retry is due at the given instant.
func (b *Base) Reconnectable(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return false
	}
	if b.disconnectedAt.IsZero() {
		return true
	}
	interval := b.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	return !now.Before(b.disconnectedAt.Add(interval))
}
