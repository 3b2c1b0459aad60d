// SPDX-License-Identifier: LGPL-3.0-or-later

// Package core holds the channel and time-series primitives shared by
// connectors, components and the data manager.
package core

import (
	"fmt"
	"sync"
	"time"
)

// Binding ties a channel to a connector, either for live access or for
// persistence ("logger" binding).
type Binding struct {
	Connector string // connector ID, empty when unbound
	Enabled   bool
	Address   string // protocol address, e.g. a register or API field
	Table     string // storage table for database connectors
}

// Bound reports whether the binding points at an enabled connector.
func (b Binding) Bound() bool {
	return b.Enabled && b.Connector != ""
}

// Channel is a single typed data point of the integrated system. Values
// carry a timestamp and a state; invalid accesses flag the state instead
// of failing the owning cycle.
type Channel struct {
	ID   string // unique, "<system>.<key>"
	Key  string
	Name string
	Type ValueType
	Freq time.Duration // sampling interval, zero = every cycle

	Connector Binding
	Logger    Binding

	mu        sync.Mutex
	value     any
	timestamp time.Time
	state     ChannelState
	readAt    time.Time // last successful connector transaction
	loggedAt  time.Time // timestamp of the last persisted value

	onUpdate func(*Channel)
}

// NewChannel creates a channel in unknown state.
func NewChannel(id, key string, typ ValueType) *Channel {
	if typ == "" {
		typ = TypeFloat
	}
	return &Channel{ID: id, Key: key, Type: typ, state: StateUnknown}
}

// OnUpdate registers the listener invoked after every valid value update.
// The data manager uses this to drive notification callbacks.
func (c *Channel) OnUpdate(fn func(*Channel)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Set stores a value with an explicit timestamp. The value is converted to
// the channel type; a conversion failure leaves the previous value in place.
func (c *Channel) Set(timestamp time.Time, value any) error {
	converted, err := c.Type.Convert(value)
	if err != nil {
		return &ResourceError{ID: c.ID, Err: err}
	}
	c.mu.Lock()
	c.value = converted
	c.timestamp = timestamp
	c.state = StateValid
	notify := c.onUpdate
	c.mu.Unlock()

	if notify != nil {
		notify(c)
	}
	return nil
}

// SetNow stores a value stamped with the current UTC time, truncated to
// full seconds.
func (c *Channel) SetNow(value any) error {
	return c.Set(time.Now().UTC().Truncate(time.Second), value)
}

// SetState flags the channel and clears the value.
func (c *Channel) SetState(state ChannelState) {
	c.mu.Lock()
	c.value = nil
	c.timestamp = time.Now().UTC().Truncate(time.Second)
	c.state = state
	c.mu.Unlock()
}

// Value returns the current value, or nil while no valid value is held.
func (c *Channel) Value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Timestamp returns the time of the last value or state change.
func (c *Channel) Timestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Valid reports whether the channel holds a usable value.
func (c *Channel) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateValid && c.value != nil
}

// Record returns the current value as a frame record.
func (c *Channel) Record() (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateValid || c.value == nil {
		return Record{}, false
	}
	return Record{Time: c.timestamp, Value: c.value}, true
}

// HasConnector reports whether the channel reads through the given connector.
func (c *Channel) HasConnector(id string) bool {
	return c.Connector.Bound() && c.Connector.Connector == id
}

// HasLogger reports whether the channel persists through the given connector.
// Without arguments it reports whether any logger is bound.
func (c *Channel) HasLogger(ids ...string) bool {
	if !c.Logger.Bound() {
		return false
	}
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if c.Logger.Connector == id {
			return true
		}
	}
	return false
}

// BoundTo reports whether the connector serves this channel in any role.
func (c *Channel) BoundTo(id string) bool {
	return c.HasConnector(id) || c.HasLogger(id)
}

// TableFor resolves the storage table the given connector should use for
// this channel, preferring the logger binding when it targets the connector.
func (c *Channel) TableFor(id string) string {
	if c.HasLogger(id) && c.Logger.Table != "" {
		return c.Logger.Table
	}
	if c.HasConnector(id) && c.Connector.Table != "" {
		return c.Connector.Table
	}
	return "data"
}

// AddressFor resolves the protocol address the given connector should use,
// falling back to the channel key.
func (c *Channel) AddressFor(id string) string {
	if c.HasConnector(id) && c.Connector.Address != "" {
		return c.Connector.Address
	}
	return c.Key
}

// NeedsLogging reports whether the current value is valid and newer than the
// last persisted one.
func (c *Channel) NeedsLogging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateValid || c.value == nil {
		return false
	}
	return c.loggedAt.IsZero() || c.timestamp.After(c.loggedAt)
}

// MarkLogged advances the logged timestamp to the current value timestamp.
func (c *Channel) MarkLogged() {
	c.mu.Lock()
	c.loggedAt = c.timestamp
	c.mu.Unlock()
}

// LoggedAt returns the timestamp of the last persisted value.
func (c *Channel) LoggedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedAt
}

// MarkRead stamps the last successful connector transaction.
func (c *Channel) MarkRead(t time.Time) {
	c.mu.Lock()
	c.readAt = t
	c.mu.Unlock()
}

// ReadAt returns the time of the last successful connector transaction.
func (c *Channel) ReadAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readAt
}

// Due reports whether the channel should be read at the given instant,
// honouring the configured sampling interval.
func (c *Channel) Due(now time.Time) bool {
	if c.Freq <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readAt.IsZero() || !now.Before(c.readAt.Add(c.Freq))
}

func (c *Channel) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateValid {
		return fmt.Sprintf("Channel(%s, value=%v, timestamp=%s)", c.ID, c.value, c.timestamp.Format(time.RFC3339))
	}
	return fmt.Sprintf("Channel(%s, state=%s)", c.ID, c.state)
}
