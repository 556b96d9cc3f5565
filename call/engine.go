// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package call implements the signaling state machine for one-to-one and
// small-group calls. The engine owns the single active call record; every
// mutation goes through it, driven by user actions on one side and inbound
// signals plus media-plane callbacks on the other.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/topics"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/transport"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/wire"
)

// Engine errors.
var (
	ErrInCall    = errors.New("call: already in a call")
	ErrNoCall    = errors.New("call: no call in progress")
	ErrNoCallees = errors.New("call: no callees")
	ErrNoMedia   = errors.New("call: no media session configured")
)

const (
	// DefaultRingTimeout bounds how long an unanswered invite rings
	// before the caller cancels it.
	DefaultRingTimeout = 45 * time.Second
	// DefaultReconnectTimeout bounds media-plane recovery before the
	// call ends with a network error.
	DefaultReconnectTimeout = 15 * time.Second

	mediaConnectTimeout = 30 * time.Second
)

// Transport is the slice of the transport client the engine consumes.
type Transport interface {
	Tenant() string
	MemberID() string
	Publish(topic string, env *wire.Envelope, qos byte) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Route(filter string, fn transport.Handler) (cancel func())
}

// Participant is one member's presence in the active call.
type Participant struct {
	MemberID       string
	Role           string // caller | callee
	JoinedAt       time.Time
	LeftAt         time.Time
	IsMuted        bool
	IsVideoEnabled bool
}

// Call is the engine's record of the call in progress. Snapshots handed to
// observers are copies; mutating them has no effect on the engine.
type Call struct {
	ID           string
	RoomName     string
	Type         wire.CallType
	Caller       wire.MemberRef
	Participants []Participant
	StartedAt    time.Time
	PeerToken    string
}

// EventKind discriminates engine events.
type EventKind uint8

// Engine event kinds.
const (
	EventStateChanged EventKind = iota
	EventIncomingCall
	EventRinging
	EventParticipants
	EventQuality
	EventEnded
)

// Event is one observable engine occurrence. Only the fields relevant to
// the kind are populated.
type Event struct {
	Kind            EventKind
	State           State
	Call            *Call
	MemberID        string
	Quality         string
	Reason          wire.EndReason
	DurationSeconds int
}

// Config carries the engine's tunables.
type Config struct {
	// DisplayName is attached to outgoing invites so callees can render
	// the caller without a directory lookup.
	DisplayName      string
	RingTimeout      time.Duration
	ReconnectTimeout time.Duration
	Logger           *slog.Logger
}

// Engine is the call signaling state machine. One per connected session.
type Engine struct {
	tr    Transport
	media MediaSession
	log   *slog.Logger
	met   *metrics

	displayName  string
	ringTimeout  time.Duration
	reconTimeout time.Duration

	mu          sync.Mutex
	state       State
	cur         *Call
	sigTopic    string
	partTopic   string
	localToken  string
	accum       time.Duration
	activeSince time.Time
	ringTimer   *time.Timer
	reconTimer  *time.Timer
	routeCancel []func()

	obsMu sync.RWMutex
	obs   map[int]func(Event)
	seq   int

	inboxCancel  func()
	statusCancel func()
}

// New builds the engine and subscribes it to the member's invite inbox and
// call status topic, both at QoS 2: losing or duplicating a signal corrupts
// the state machine on one side of the call.
func New(tr Transport, media MediaSession, cfg Config) (*Engine, error) {
	if media == nil {
		return nil, ErrNoMedia
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = DefaultReconnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	met, err := newMetrics()
	if err != nil {
		return nil, err
	}

	inbox, err := topics.MemberInbox(tr.Tenant(), tr.MemberID())
	if err != nil {
		return nil, err
	}
	status, err := topics.MemberCallStatus(tr.Tenant(), tr.MemberID())
	if err != nil {
		return nil, err
	}
	if err := tr.Subscribe(inbox, 2); err != nil {
		return nil, err
	}
	if err := tr.Subscribe(status, 2); err != nil {
		return nil, err
	}

	e := &Engine{
		tr:           tr,
		media:        media,
		log:          cfg.Logger.With("component", "call"),
		met:          met,
		displayName:  cfg.DisplayName,
		ringTimeout:  cfg.RingTimeout,
		reconTimeout: cfg.ReconnectTimeout,
		state:        StateIdle,
		obs:          make(map[int]func(Event)),
	}
	e.inboxCancel = tr.Route(inbox, e.handleSignal)
	e.statusCancel = tr.Route(status, e.handleSignal)
	return e, nil
}

// Close hangs up any call in progress and stops inbound signal handling.
// The hangup goes through End, so the peer still receives the
// state-appropriate signal (CANCEL, REJECT or END) before teardown.
func (e *Engine) Close() {
	if err := e.End(); err != nil && !errors.Is(err, ErrNoCall) {
		e.log.Warn("hangup on close failed", "error", err)
	}
	if e.inboxCancel != nil {
		e.inboxCancel()
	}
	if e.statusCancel != nil {
		e.statusCancel()
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Current returns a snapshot of the call in progress, or nil.
func (e *Engine) Current() *Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// OnEvent registers an observer. Observers run on engine goroutines and
// must not block; they must hand slow work off.
func (e *Engine) OnEvent(fn func(Event)) (cancel func()) {
	e.obsMu.Lock()
	e.seq++
	id := e.seq
	e.obs[id] = fn
	e.obsMu.Unlock()

	return func() {
		e.obsMu.Lock()
		delete(e.obs, id)
		e.obsMu.Unlock()
	}
}

// Start places a call to the given members. The invite fans out to each
// callee's inbox at QoS 2 and the engine moves to StateOutgoing until an
// answer arrives or the ring timeout cancels the attempt. mediaToken is the
// local member's credential for the media room, used once a callee accepts.
func (e *Engine) Start(callType wire.CallType, callees []string, mediaToken string) (string, error) {
	if len(callees) == 0 {
		return "", ErrNoCallees
	}

	me := e.tr.MemberID()
	callID := uuid.NewString()
	roomName := "call-" + callID

	e.mu.Lock()
	if !e.state.atRest() {
		e.mu.Unlock()
		return "", ErrInCall
	}
	if err := e.joinCallTopicsLocked(callID); err != nil {
		e.mu.Unlock()
		return "", err
	}
	now := time.Now().UTC()
	e.cur = &Call{
		ID:       callID,
		RoomName: roomName,
		Type:     callType,
		Caller:   wire.MemberRef{ID: me, Name: e.displayName},
		Participants: []Participant{
			{MemberID: me, Role: "caller", JoinedAt: now},
		},
	}
	e.localToken = mediaToken
	e.state = StateOutgoing
	e.ringTimer = time.AfterFunc(e.ringTimeout, func() { e.ringExpired(callID) })
	ev := Event{Kind: EventStateChanged, State: StateOutgoing, Call: e.snapshotLocked()}
	e.mu.Unlock()

	inv := wire.Invite{
		CallID:   callID,
		RoomName: roomName,
		CallType: callType,
		Caller:   wire.MemberRef{ID: me, Name: e.displayName},
		Callees:  callees,
	}
	env, err := wire.NewSignalEnvelope(me, inv)
	if err != nil {
		return "", err
	}
	for _, callee := range callees {
		inboxTopic, err := topics.MemberInbox(e.tr.Tenant(), callee)
		if err != nil {
			e.log.Warn("skipping invite for invalid callee id", "callee", callee, "error", err)
			continue
		}
		if err := e.tr.Publish(inboxTopic, env, 2); err != nil {
			e.log.Warn("invite publish failed", "callee", callee, "error", err)
		}
	}

	e.emit(ev)
	return callID, nil
}

// Accept answers the ringing incoming call, publishing the local media token
// to the caller and starting the media-plane join.
func (e *Engine) Accept(mediaToken string) error {
	e.mu.Lock()
	if e.state != StateIncoming {
		e.mu.Unlock()
		return ErrNoCall
	}
	e.localToken = mediaToken
	e.state = StateConnecting
	callID, room, sigTopic := e.cur.ID, e.cur.RoomName, e.sigTopic
	ev := Event{Kind: EventStateChanged, State: StateConnecting, Call: e.snapshotLocked()}
	e.mu.Unlock()

	env, err := wire.NewSignalEnvelope(e.tr.MemberID(), wire.Accept{
		CallID:     callID,
		MemberID:   e.tr.MemberID(),
		MediaToken: mediaToken,
	})
	if err != nil {
		return err
	}
	if err := e.tr.Publish(sigTopic, env, 2); err != nil {
		return err
	}

	go e.connectMedia(callID, mediaToken, room)
	e.emit(ev)
	return nil
}

// Reject declines the ringing incoming call.
func (e *Engine) Reject() error {
	e.mu.Lock()
	if e.state != StateIncoming {
		e.mu.Unlock()
		return ErrNoCall
	}
	callID, sigTopic := e.cur.ID, e.sigTopic
	after := e.finishLocked(wire.EndRejected, false)
	e.mu.Unlock()

	env, err := wire.NewSignalEnvelope(e.tr.MemberID(), wire.Reject{
		CallID:   callID,
		MemberID: e.tr.MemberID(),
		Reason:   wire.EndRejected,
	})
	if err == nil {
		if perr := e.tr.Publish(sigTopic, env, 2); perr != nil {
			e.log.Warn("reject publish failed", "call_id", callID, "error", perr)
		}
	}
	after()
	return nil
}

// End hangs up whatever call is in progress: it cancels an unanswered
// outgoing call, rejects a ringing incoming one, and ends an established
// one with the accumulated duration.
func (e *Engine) End() error {
	e.mu.Lock()
	switch e.state {
	case StateIncoming:
		e.mu.Unlock()
		return e.Reject()
	case StateOutgoing:
		callID, sigTopic := e.cur.ID, e.sigTopic
		after := e.finishLocked(wire.EndCancelled, false)
		e.mu.Unlock()

		env, err := wire.NewSignalEnvelope(e.tr.MemberID(), wire.Cancel{CallID: callID})
		if err == nil {
			if perr := e.tr.Publish(sigTopic, env, 2); perr != nil {
				e.log.Warn("cancel publish failed", "call_id", callID, "error", perr)
			}
		}
		after()
		return nil
	case StateConnecting, StateActive, StateReconnecting:
		after := e.finishLocked(wire.EndNormal, true)
		e.mu.Unlock()
		after()
		return nil
	default:
		e.mu.Unlock()
		return ErrNoCall
	}
}

// SetMuted toggles the local microphone and announces the change.
func (e *Engine) SetMuted(muted bool) error {
	if err := e.media.SetMuted(muted); err != nil {
		return err
	}
	return e.announceToggle(func(p *Participant) { p.IsMuted = muted }, func(callID string) wire.Signal {
		return wire.ParticipantMuted{CallID: callID, MemberID: e.tr.MemberID(), IsMuted: muted}
	})
}

// SetVideoEnabled toggles the local camera and announces the change.
func (e *Engine) SetVideoEnabled(enabled bool) error {
	if err := e.media.SetVideoEnabled(enabled); err != nil {
		return err
	}
	return e.announceToggle(func(p *Participant) { p.IsVideoEnabled = enabled }, func(callID string) wire.Signal {
		return wire.ParticipantVideo{CallID: callID, MemberID: e.tr.MemberID(), IsVideoEnabled: enabled}
	})
}

// SetSpeakerOutput toggles speakerphone and announces the change.
func (e *Engine) SetSpeakerOutput(speaker bool) error {
	if err := e.media.SetSpeakerOutput(speaker); err != nil {
		return err
	}
	return e.announceToggle(nil, func(callID string) wire.Signal {
		return wire.ParticipantSpeaker{CallID: callID, MemberID: e.tr.MemberID(), SpeakerOn: speaker}
	})
}

// SwitchCamera flips between front and rear cameras. Purely local.
func (e *Engine) SwitchCamera() error {
	return e.media.SwitchCamera()
}

func (e *Engine) announceToggle(apply func(*Participant), sig func(callID string) wire.Signal) error {
	e.mu.Lock()
	if e.cur == nil {
		e.mu.Unlock()
		return nil
	}
	callID, partTopic := e.cur.ID, e.partTopic
	if apply != nil {
		if p := e.participantLocked(e.tr.MemberID()); p != nil {
			apply(p)
		}
	}
	ev := Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: e.tr.MemberID()}
	e.mu.Unlock()

	env, err := wire.NewSignalEnvelope(e.tr.MemberID(), sig(callID))
	if err != nil {
		return err
	}
	if err := e.tr.Publish(partTopic, env, 1); err != nil {
		return err
	}
	e.emit(ev)
	return nil
}

// inbound signal path

func (e *Engine) handleSignal(_ string, env *wire.Envelope) {
	if env.SenderID == e.tr.MemberID() {
		return
	}
	sig, err := wire.DecodeSignal(env)
	if err != nil {
		e.log.Debug("dropping undecodable signal", "type", env.Type, "error", err)
		return
	}

	if inv, ok := sig.(wire.Invite); ok {
		e.handleInvite(inv)
		return
	}

	e.mu.Lock()
	if e.cur == nil || sig.Call() != e.cur.ID {
		e.mu.Unlock()
		e.met.stale()
		e.log.Debug("ignoring signal for unknown call", "type", env.Type, "call_id", sig.Call())
		return
	}

	var (
		events []Event
		after  func()
	)
	switch s := sig.(type) {
	case wire.Ringing:
		if e.state == StateOutgoing {
			events = append(events, Event{Kind: EventRinging, State: e.state, MemberID: s.MemberID})
		}

	case wire.Accept:
		if e.state == StateOutgoing {
			e.cur.PeerToken = s.MediaToken
			e.stopRingTimerLocked()
			e.state = StateConnecting
			e.upsertParticipantLocked(s.MemberID, "callee")
			go e.connectMedia(e.cur.ID, e.localToken, e.cur.RoomName)
			events = append(events, Event{Kind: EventStateChanged, State: StateConnecting, Call: e.snapshotLocked()})
		}

	case wire.Reject:
		if e.state == StateOutgoing {
			reason := s.Reason
			if reason == "" {
				reason = wire.EndRejected
			}
			after = e.finishLocked(reason, false)
		}

	case wire.Busy:
		if e.state == StateOutgoing {
			after = e.finishLocked(wire.EndBusy, false)
		}

	case wire.Cancel:
		if e.state == StateIncoming {
			after = e.finishLocked(wire.EndCancelled, false)
		}

	case wire.End:
		if e.state.inCall() {
			reason := s.Reason
			if reason == "" {
				reason = wire.EndNormal
			}
			after = e.finishLocked(reason, false)
		}

	case wire.ParticipantJoined:
		p := e.upsertParticipantLocked(s.MemberID, s.Role)
		if !s.JoinedAt.IsZero() {
			p.JoinedAt = s.JoinedAt
		}
		p.IsMuted = s.IsMuted
		p.IsVideoEnabled = s.IsVideoEnabled
		p.LeftAt = time.Time{}
		events = append(events, Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: s.MemberID})

	case wire.ParticipantLeft:
		if p := e.participantLocked(s.MemberID); p != nil {
			p.LeftAt = s.LeftAt
			if p.LeftAt.IsZero() {
				p.LeftAt = time.Now().UTC()
			}
		}
		events = append(events, Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: s.MemberID})

	case wire.ParticipantMuted:
		if p := e.participantLocked(s.MemberID); p != nil {
			p.IsMuted = s.IsMuted
		}
		events = append(events, Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: s.MemberID})

	case wire.ParticipantVideo:
		if p := e.participantLocked(s.MemberID); p != nil {
			p.IsVideoEnabled = s.IsVideoEnabled
		}
		events = append(events, Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: s.MemberID})

	case wire.ParticipantSpeaker:
		// Speaker routing is a device-local concern; nothing to track.

	case wire.NetworkQuality:
		events = append(events, Event{Kind: EventQuality, State: e.state, MemberID: s.MemberID, Quality: s.Quality})
	}
	e.mu.Unlock()

	if after != nil {
		after()
	}
	for _, ev := range events {
		e.emit(ev)
	}
}

func (e *Engine) handleInvite(inv wire.Invite) {
	me := e.tr.MemberID()
	if inv.Caller.ID == me {
		// Our own invite echoed back through inbox fan-out.
		return
	}

	e.mu.Lock()
	if e.state.inCall() {
		e.mu.Unlock()
		e.met.busy()
		e.log.Info("auto-rejecting invite while in a call", "call_id", inv.CallID, "caller", inv.Caller.ID)
		statusTopic, err := topics.MemberCallStatus(e.tr.Tenant(), inv.Caller.ID)
		if err != nil {
			return
		}
		env, err := wire.NewSignalEnvelope(me, wire.Busy{CallID: inv.CallID, MemberID: me})
		if err != nil {
			return
		}
		if perr := e.tr.Publish(statusTopic, env, 2); perr != nil {
			e.log.Warn("busy publish failed", "call_id", inv.CallID, "error", perr)
		}
		return
	}

	if err := e.joinCallTopicsLocked(inv.CallID); err != nil {
		e.mu.Unlock()
		e.log.Warn("cannot subscribe call topics, dropping invite", "call_id", inv.CallID, "error", err)
		return
	}
	now := time.Now().UTC()
	e.cur = &Call{
		ID:       inv.CallID,
		RoomName: inv.RoomName,
		Type:     inv.CallType,
		Caller:   inv.Caller,
		Participants: []Participant{
			{MemberID: inv.Caller.ID, Role: "caller", JoinedAt: now},
		},
	}
	e.state = StateIncoming
	sigTopic := e.sigTopic
	snap := e.snapshotLocked()
	e.mu.Unlock()

	env, err := wire.NewSignalEnvelope(me, wire.Ringing{CallID: inv.CallID, MemberID: me})
	if err == nil {
		if perr := e.tr.Publish(sigTopic, env, 2); perr != nil {
			e.log.Warn("ringing publish failed", "call_id", inv.CallID, "error", perr)
		}
	}

	e.emit(Event{Kind: EventIncomingCall, State: StateIncoming, Call: snap})
	e.emit(Event{Kind: EventStateChanged, State: StateIncoming, Call: snap})
}

// media-plane callbacks

// OnConnectionStateChanged moves the call between connecting, active and
// reconnecting as the media plane reports. Engine implements MediaObserver.
func (e *Engine) OnConnectionStateChanged(state MediaState) {
	if state == MediaConnected {
		e.mediaConnected("")
		return
	}

	e.mu.Lock()
	var (
		events []Event
		after  func()
	)
	switch state {
	case MediaReconnecting:
		if e.state == StateActive {
			e.accum += time.Since(e.activeSince)
			e.activeSince = time.Time{}
			e.state = StateReconnecting
			callID := e.cur.ID
			e.reconTimer = time.AfterFunc(e.reconTimeout, func() { e.reconnectExpired(callID) })
			events = append(events, Event{Kind: EventStateChanged, State: StateReconnecting, Call: e.snapshotLocked()})
		}

	case MediaFailed:
		if e.state.inCall() {
			after = e.finishLocked(wire.EndFailed, true)
		}

	case MediaDisconnected:
		// Expected after our own Disconnect; the signaling side already
		// decided how the call ends.
	}
	e.mu.Unlock()

	if after != nil {
		after()
	}
	for _, ev := range events {
		e.emit(ev)
	}
}

// mediaConnected handles a media-plane join. A non-empty callID pins the
// transition to that call: a slow connect finishing after its call already
// ended must not touch whatever call came next.
func (e *Engine) mediaConnected(callID string) {
	e.mu.Lock()
	if e.cur == nil || (callID != "" && e.cur.ID != callID) {
		e.mu.Unlock()
		return
	}

	var (
		events []Event
		join   *wire.Envelope
		pTopic string
	)
	switch e.state {
	case StateConnecting:
		e.state = StateActive
		e.activeSince = time.Now().UTC()
		if e.cur.StartedAt.IsZero() {
			e.cur.StartedAt = e.activeSince
		}
		me := e.tr.MemberID()
		role := "callee"
		if e.cur.Caller.ID == me {
			role = "caller"
		}
		p := e.upsertParticipantLocked(me, role)
		if p.JoinedAt.IsZero() {
			p.JoinedAt = e.activeSince
		}
		env, err := wire.NewSignalEnvelope(me, wire.ParticipantJoined{
			CallID:         e.cur.ID,
			MemberID:       me,
			Role:           p.Role,
			JoinedAt:       e.activeSince,
			IsMuted:        p.IsMuted,
			IsVideoEnabled: p.IsVideoEnabled,
		})
		if err == nil {
			join, pTopic = env, e.partTopic
		}
		events = append(events, Event{Kind: EventStateChanged, State: StateActive, Call: e.snapshotLocked()})
	case StateReconnecting:
		e.stopReconTimerLocked()
		e.state = StateActive
		e.activeSince = time.Now().UTC()
		events = append(events, Event{Kind: EventStateChanged, State: StateActive, Call: e.snapshotLocked()})
	}
	e.mu.Unlock()

	if join != nil {
		if err := e.tr.Publish(pTopic, join, 1); err != nil {
			e.log.Warn("participant_joined publish failed", "error", err)
		}
	}
	for _, ev := range events {
		e.emit(ev)
	}
}

// OnParticipantJoined records a media-room join observed by the adapter.
func (e *Engine) OnParticipantJoined(memberID string) {
	if memberID == e.tr.MemberID() {
		return
	}
	e.mu.Lock()
	if e.cur == nil {
		e.mu.Unlock()
		return
	}
	p := e.upsertParticipantLocked(memberID, "callee")
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	p.LeftAt = time.Time{}
	ev := Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: memberID}
	e.mu.Unlock()
	e.emit(ev)
}

// OnParticipantLeft records a media-room departure observed by the adapter.
func (e *Engine) OnParticipantLeft(memberID string) {
	if memberID == e.tr.MemberID() {
		return
	}
	e.mu.Lock()
	if e.cur == nil {
		e.mu.Unlock()
		return
	}
	if p := e.participantLocked(memberID); p != nil {
		p.LeftAt = time.Now().UTC()
	}
	ev := Event{Kind: EventParticipants, State: e.state, Call: e.snapshotLocked(), MemberID: memberID}
	e.mu.Unlock()
	e.emit(ev)
}

// OnNetworkQualityChanged surfaces per-participant media quality. The local
// member's readings are rebroadcast best-effort so peers can render them.
func (e *Engine) OnNetworkQualityChanged(memberID, quality string) {
	e.mu.Lock()
	if e.cur == nil {
		e.mu.Unlock()
		return
	}
	callID, partTopic := e.cur.ID, e.partTopic
	ev := Event{Kind: EventQuality, State: e.state, MemberID: memberID, Quality: quality}
	e.mu.Unlock()

	if memberID == e.tr.MemberID() {
		env, err := wire.NewSignalEnvelope(memberID, wire.NetworkQuality{
			CallID:   callID,
			MemberID: memberID,
			Quality:  quality,
		})
		if err == nil {
			_ = e.tr.Publish(partTopic, env, 0)
		}
	}
	e.emit(ev)
}

// internals

func (e *Engine) connectMedia(callID, token, room string) {
	ctx, cancel := context.WithTimeout(context.Background(), mediaConnectTimeout)
	defer cancel()

	if err := e.media.Connect(ctx, token, room); err != nil {
		e.mu.Lock()
		if e.cur == nil || e.cur.ID != callID || !e.state.inCall() {
			e.mu.Unlock()
			return
		}
		e.log.Warn("media connect failed", "call_id", callID, "error", err)
		after := e.finishLocked(wire.EndFailed, true)
		e.mu.Unlock()
		after()
		return
	}

	e.mediaConnected(callID)
}

func (e *Engine) ringExpired(callID string) {
	e.mu.Lock()
	if e.cur == nil || e.cur.ID != callID || e.state != StateOutgoing {
		e.mu.Unlock()
		return
	}
	sigTopic := e.sigTopic
	after := e.finishLocked(wire.EndNoAnswer, false)
	e.mu.Unlock()

	env, err := wire.NewSignalEnvelope(e.tr.MemberID(), wire.Cancel{CallID: callID})
	if err == nil {
		if perr := e.tr.Publish(sigTopic, env, 2); perr != nil {
			e.log.Warn("ring-timeout cancel publish failed", "call_id", callID, "error", perr)
		}
	}
	after()
}

func (e *Engine) reconnectExpired(callID string) {
	e.mu.Lock()
	if e.cur == nil || e.cur.ID != callID || e.state != StateReconnecting {
		e.mu.Unlock()
		return
	}
	after := e.finishLocked(wire.EndNetworkError, true)
	e.mu.Unlock()
	after()
}

// joinCallTopicsLocked subscribes and routes the per-call topics. Signals
// ride QoS 2, participant events QoS 1.
func (e *Engine) joinCallTopicsLocked(callID string) error {
	sigTopic, err := topics.CallSignal(e.tr.Tenant(), callID)
	if err != nil {
		return err
	}
	partTopic, err := topics.CallParticipants(e.tr.Tenant(), callID)
	if err != nil {
		return err
	}
	if err := e.tr.Subscribe(sigTopic, 2); err != nil {
		return err
	}
	if err := e.tr.Subscribe(partTopic, 1); err != nil {
		_ = e.tr.Unsubscribe(sigTopic)
		return err
	}
	e.sigTopic, e.partTopic = sigTopic, partTopic
	e.routeCancel = []func(){
		e.tr.Route(sigTopic, e.handleSignal),
		e.tr.Route(partTopic, e.handleSignal),
	}
	return nil
}

// finishLocked tears the call down and returns a closure performing the
// side effects that must not run under the lock: route cancellation,
// unsubscribes, the optional END publish, media disconnect and the Ended
// event. publishEnd is set when this side originates the hangup of an
// established call.
func (e *Engine) finishLocked(reason wire.EndReason, publishEnd bool) func() {
	duration := e.accum
	if !e.activeSince.IsZero() {
		duration += time.Since(e.activeSince)
	}
	secs := int(duration / time.Second)

	e.stopRingTimerLocked()
	e.stopReconTimerLocked()

	hadMedia := e.state == StateConnecting || e.state == StateActive || e.state == StateReconnecting
	sigTopic, partTopic := e.sigTopic, e.partTopic
	cancels := e.routeCancel
	snap := e.snapshotLocked()
	callID := ""
	if e.cur != nil {
		callID = e.cur.ID
	}

	e.cur = nil
	e.sigTopic, e.partTopic = "", ""
	e.routeCancel = nil
	e.localToken = ""
	e.accum = 0
	e.activeSince = time.Time{}
	e.state = StateEnded

	var endEnv *wire.Envelope
	if publishEnd && callID != "" {
		env, err := wire.NewSignalEnvelope(e.tr.MemberID(), wire.End{
			CallID:          callID,
			Reason:          reason,
			DurationSeconds: secs,
		})
		if err == nil {
			endEnv = env
		}
	}

	return func() {
		if endEnv != nil {
			if err := e.tr.Publish(sigTopic, endEnv, 2); err != nil {
				e.log.Warn("end publish failed", "call_id", callID, "error", err)
			}
		}
		for _, cancel := range cancels {
			cancel()
		}
		if sigTopic != "" {
			_ = e.tr.Unsubscribe(sigTopic)
			_ = e.tr.Unsubscribe(partTopic)
		}
		if hadMedia {
			if err := e.media.Disconnect(); err != nil {
				e.log.Warn("media disconnect failed", "call_id", callID, "error", err)
			}
		}
		e.emit(Event{
			Kind:            EventEnded,
			State:           StateEnded,
			Call:            snap,
			Reason:          reason,
			DurationSeconds: secs,
		})
	}
}

func (e *Engine) stopRingTimerLocked() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}

func (e *Engine) stopReconTimerLocked() {
	if e.reconTimer != nil {
		e.reconTimer.Stop()
		e.reconTimer = nil
	}
}

func (e *Engine) participantLocked(memberID string) *Participant {
	if e.cur == nil {
		return nil
	}
	for i := range e.cur.Participants {
		if e.cur.Participants[i].MemberID == memberID {
			return &e.cur.Participants[i]
		}
	}
	return nil
}

func (e *Engine) upsertParticipantLocked(memberID, role string) *Participant {
	if p := e.participantLocked(memberID); p != nil {
		return p
	}
	e.cur.Participants = append(e.cur.Participants, Participant{MemberID: memberID, Role: role})
	return &e.cur.Participants[len(e.cur.Participants)-1]
}

func (e *Engine) snapshotLocked() *Call {
	if e.cur == nil {
		return nil
	}
	snap := *e.cur
	snap.Participants = append([]Participant(nil), e.cur.Participants...)
	return &snap
}

func (e *Engine) emit(ev Event) {
	e.obsMu.RLock()
	fns := make([]func(Event), 0, len(e.obs))
	for _, fn := range e.obs {
		fns = append(fns, fn)
	}
	e.obsMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
