// SPDX-License-Identifier: LGPL-3.0-or-later

package core

// ChannelState describes the momentary condition of a channel value.
type ChannelState string

const (
	StateUnknown       ChannelState = "unknown"
	StateValid         ChannelState = "valid"
	StateDisabled      ChannelState = "disabled"
	StateConnecting    ChannelState = "connecting"
	StateDisconnecting ChannelState = "disconnecting"
	StateDisconnected  ChannelState = "disconnected"
	StateUnavailable   ChannelState = "unavailable"
	StateTimeoutError  ChannelState = "timeout_error"
	StateUnknownError  ChannelState = "unknown_error"
)

// Error reports whether the state marks a failed access.
func (s ChannelState) Error() bool {
	switch s {
	case StateUnavailable, StateTimeoutError, StateUnknownError:
		return true
	}
	return false
}

func (s ChannelState) String() string {
	return string(s)
}
