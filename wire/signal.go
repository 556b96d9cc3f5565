// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"time"
)

// Call signal type tags. Every signal envelope carries exactly one of these.
const (
	SignalInvite             = "call_invite"
	SignalAccept             = "call_accept"
	SignalReject             = "call_reject"
	SignalBusy               = "call_busy"
	SignalCancel             = "call_cancel"
	SignalEnd                = "call_end"
	SignalRinging            = "call_ringing"
	SignalParticipantJoined  = "participant_joined"
	SignalParticipantLeft    = "participant_left"
	SignalParticipantMuted   = "participant_muted"
	SignalParticipantVideo   = "participant_video"
	SignalParticipantSpeaker = "participant_speaker"
	SignalNetworkQuality     = "network_quality"
)

// CallType distinguishes voice from video calls.
type CallType string

// Call types.
const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// EndReason is carried by call_end and surfaced to the UI.
type EndReason string

// End reasons.
const (
	EndNormal       EndReason = "normal"
	EndRejected     EndReason = "rejected"
	EndBusy         EndReason = "busy"
	EndCancelled    EndReason = "cancelled"
	EndNoAnswer     EndReason = "no_answer"
	EndFailed       EndReason = "failed"
	EndNetworkError EndReason = "network_error"
)

// MemberRef identifies a member in a signal payload.
type MemberRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Signal is the closed variant set driving the call state machine. Adding a
// variant requires extending DecodeSignal and every switch over signals.
type Signal interface {
	// SignalType returns the envelope type tag for this variant.
	SignalType() string
	// Call returns the call id the signal refers to.
	Call() string
}

// Invite asks each callee to join a new call.
type Invite struct {
	CallID   string    `json:"call_id"`
	RoomName string    `json:"room_name"`
	CallType CallType  `json:"call_type"`
	Caller   MemberRef `json:"caller"`
	Callees  []string  `json:"callees"`
}

// Ringing acknowledges an invite before the callee decides.
type Ringing struct {
	CallID   string `json:"call_id"`
	MemberID string `json:"member_id"`
}

// Accept carries the callee's media token back to the caller.
type Accept struct {
	CallID     string `json:"call_id"`
	MemberID   string `json:"member_id"`
	MediaToken string `json:"media_token"`
}

// Reject declines an invite.
type Reject struct {
	CallID   string    `json:"call_id"`
	MemberID string    `json:"member_id"`
	Reason   EndReason `json:"reason,omitempty"`
}

// Busy is the automatic answer to an invite received mid-call.
type Busy struct {
	CallID   string `json:"call_id"`
	MemberID string `json:"member_id"`
}

// Cancel withdraws an invite before it is answered.
type Cancel struct {
	CallID string `json:"call_id"`
}

// End terminates an established call.
type End struct {
	CallID          string    `json:"call_id"`
	Reason          EndReason `json:"reason"`
	DurationSeconds int       `json:"duration_seconds"`
}

// ParticipantJoined announces a member joining the call's media room.
type ParticipantJoined struct {
	CallID         string    `json:"call_id"`
	MemberID       string    `json:"member_id"`
	Role           string    `json:"role"` // caller | callee
	JoinedAt       time.Time `json:"joined_at"`
	IsMuted        bool      `json:"is_muted"`
	IsVideoEnabled bool      `json:"is_video_enabled"`
}

// ParticipantLeft announces a member leaving the call's media room.
type ParticipantLeft struct {
	CallID   string    `json:"call_id"`
	MemberID string    `json:"member_id"`
	LeftAt   time.Time `json:"left_at"`
}

// ParticipantMuted reflects a mute toggle.
type ParticipantMuted struct {
	CallID   string `json:"call_id"`
	MemberID string `json:"member_id"`
	IsMuted  bool   `json:"is_muted"`
}

// ParticipantVideo reflects a camera toggle.
type ParticipantVideo struct {
	CallID         string `json:"call_id"`
	MemberID       string `json:"member_id"`
	IsVideoEnabled bool   `json:"is_video_enabled"`
}

// ParticipantSpeaker reflects a speaker-output toggle.
type ParticipantSpeaker struct {
	CallID    string `json:"call_id"`
	MemberID  string `json:"member_id"`
	SpeakerOn bool   `json:"speaker_on"`
}

// NetworkQuality reports media-plane quality for one participant.
type NetworkQuality struct {
	CallID   string `json:"call_id"`
	MemberID string `json:"member_id"`
	Quality  string `json:"quality"` // excellent | good | poor | lost
}

func (s Invite) SignalType() string             { return SignalInvite }
func (s Ringing) SignalType() string            { return SignalRinging }
func (s Accept) SignalType() string             { return SignalAccept }
func (s Reject) SignalType() string             { return SignalReject }
func (s Busy) SignalType() string               { return SignalBusy }
func (s Cancel) SignalType() string             { return SignalCancel }
func (s End) SignalType() string                { return SignalEnd }
func (s ParticipantJoined) SignalType() string  { return SignalParticipantJoined }
func (s ParticipantLeft) SignalType() string    { return SignalParticipantLeft }
func (s ParticipantMuted) SignalType() string   { return SignalParticipantMuted }
func (s ParticipantVideo) SignalType() string   { return SignalParticipantVideo }
func (s ParticipantSpeaker) SignalType() string { return SignalParticipantSpeaker }
func (s NetworkQuality) SignalType() string     { return SignalNetworkQuality }

func (s Invite) Call() string             { return s.CallID }
func (s Ringing) Call() string            { return s.CallID }
func (s Accept) Call() string             { return s.CallID }
func (s Reject) Call() string             { return s.CallID }
func (s Busy) Call() string               { return s.CallID }
func (s Cancel) Call() string             { return s.CallID }
func (s End) Call() string                { return s.CallID }
func (s ParticipantJoined) Call() string  { return s.CallID }
func (s ParticipantLeft) Call() string    { return s.CallID }
func (s ParticipantMuted) Call() string   { return s.CallID }
func (s ParticipantVideo) Call() string   { return s.CallID }
func (s ParticipantSpeaker) Call() string { return s.CallID }
func (s NetworkQuality) Call() string     { return s.CallID }

// NewSignalEnvelope wraps a signal in an envelope ready to publish.
func NewSignalEnvelope(senderID string, s Signal) (*Envelope, error) {
	return NewEnvelope(s.SignalType(), senderID, s)
}

func decodeSignal[T Signal](e *Envelope) (Signal, error) {
	var s T
	if err := e.decodeInto(&s); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeSignal selects and decodes the signal variant named by the envelope
// type. Envelopes carrying non-signal types are an error: the caller routed
// the wrong topic here.
func DecodeSignal(e *Envelope) (Signal, error) {
	switch e.Type {
	case SignalInvite:
		return decodeSignal[Invite](e)
	case SignalRinging:
		return decodeSignal[Ringing](e)
	case SignalAccept:
		return decodeSignal[Accept](e)
	case SignalReject:
		return decodeSignal[Reject](e)
	case SignalBusy:
		return decodeSignal[Busy](e)
	case SignalCancel:
		return decodeSignal[Cancel](e)
	case SignalEnd:
		return decodeSignal[End](e)
	case SignalParticipantJoined:
		return decodeSignal[ParticipantJoined](e)
	case SignalParticipantLeft:
		return decodeSignal[ParticipantLeft](e)
	case SignalParticipantMuted:
		return decodeSignal[ParticipantMuted](e)
	case SignalParticipantVideo:
		return decodeSignal[ParticipantVideo](e)
	case SignalParticipantSpeaker:
		return decodeSignal[ParticipantSpeaker](e)
	case SignalNetworkQuality:
		return decodeSignal[NetworkQuality](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, e.Type)
	}
}
