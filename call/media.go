// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package call

import "context"

// MediaState is the media-plane connection state reported by the adapter.
type MediaState uint32

// Media-plane states.
const (
	MediaDisconnected MediaState = iota
	MediaConnected
	MediaReconnecting
	MediaFailed
)

func (s MediaState) String() string {
	switch s {
	case MediaDisconnected:
		return "disconnected"
	case MediaConnected:
		return "connected"
	case MediaReconnecting:
		return "reconnecting"
	case MediaFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MediaSession is the media-plane executor behind a call. Implementations
// wrap an audio/video provider SDK; they never interpret signaling, the
// engine tells them exactly what to do.
type MediaSession interface {
	// Connect joins the provider room named by the invite using the
	// member's media token. It blocks until the room is joined or ctx
	// expires.
	Connect(ctx context.Context, token, roomName string) error
	// Disconnect leaves the room. Safe to call when not connected.
	Disconnect() error

	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetSpeakerOutput(speaker bool) error
	SwitchCamera() error
}

// MediaObserver receives media-plane callbacks. *Engine implements it; an
// adapter is handed the engine at wiring time and calls back into it from
// its own event loop.
type MediaObserver interface {
	OnConnectionStateChanged(state MediaState)
	OnParticipantJoined(memberID string)
	OnParticipantLeft(memberID string)
	OnNetworkQualityChanged(memberID, quality string)
}
