// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package call

// State is the call engine's position in the signaling lifecycle. Exactly one
// call exists per engine, so the state is a single value rather than a map.
type State uint32

// Call states. StateEnded is a resting state: the next invite or outgoing
// call is admitted from it exactly as from StateIdle.
const (
	StateIdle State = iota
	StateOutgoing
	StateIncoming
	StateConnecting
	StateActive
	StateReconnecting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// atRest reports whether the engine can admit a new call.
func (s State) atRest() bool {
	return s == StateIdle || s == StateEnded
}

// inCall reports whether a signaling exchange is in flight.
func (s State) inCall() bool {
	return !s.atRest()
}
