// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package transport

import "sync/atomic"

// Status is the connection status of the transport client.
type Status uint32

// Connection statuses. Offline is terminal for the automatic reconnect
// machinery: leaving it requires an explicit Connect.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusOffline
	StatusClosed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusOffline:
		return "offline"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager handles atomic status transitions.
type stateManager struct {
	state uint32
}

func newStateManager() *stateManager {
	return &stateManager{state: uint32(StatusDisconnected)}
}

func (sm *stateManager) get() Status {
	return Status(atomic.LoadUint32(&sm.state))
}

func (sm *stateManager) set(s Status) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// transition attempts the from->to transition, reporting success.
func (sm *stateManager) transition(from, to Status) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

// transitionFrom attempts to reach to from any of the given statuses.
func (sm *stateManager) transitionFrom(to Status, from ...Status) bool {
	for _, f := range from {
		if sm.transition(f, to) {
			return true
		}
	}
	return false
}

func (sm *stateManager) isConnected() bool {
	return sm.get() == StatusConnected
}

func (sm *stateManager) isClosed() bool {
	return sm.get() == StatusClosed
}
