// SPDX-License-Identifier: LGPL-3.0-or-later

package core

import "sort"

// Channels is an ordered collection of channels.
type Channels []*Channel

// Filter returns the channels matching the predicate, preserving order.
func (cs Channels) Filter(match func(*Channel) bool) Channels {
	out := make(Channels, 0, len(cs))
	for _, c := range cs {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the channel with the given ID.
func (cs Channels) Get(id string) (*Channel, bool) {
	for _, c := range cs {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// IDs returns the channel IDs in collection order.
func (cs Channels) IDs() []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}

// GroupBy partitions the channels by the given key function. Group names
// are returned sorted for deterministic iteration.
func (cs Channels) GroupBy(key func(*Channel) string) ([]string, map[string]Channels) {
	groups := make(map[string]Channels)
	for _, c := range cs {
		k := key(c)
		groups[k] = append(groups[k], c)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, groups
}

// Frame collects the current valid values into a single frame.
func (cs Channels) Frame() Frame {
	frame := make(Frame)
	for _, c := range cs {
		if rec, ok := c.Record(); ok {
			frame.Add(c.ID, rec)
		}
	}
	return frame
}

// SetState flags every channel in the collection.
func (cs Channels) SetState(state ChannelState) {
	for _, c := range cs {
		c.SetState(state)
	}
}
