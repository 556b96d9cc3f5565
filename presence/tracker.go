// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package presence publishes and tracks ephemeral member state: online/
// offline over the tenant presence topic and typing indicators over chat
// channel topics. Nothing here is persisted; the last-will registered by the
// transport keeps the offline side honest when a client drops uncleanly.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/topics"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/transport"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/wire"
)

// Transport is the slice of the transport client the tracker consumes.
type Transport interface {
	Tenant() string
	MemberID() string
	Publish(topic string, env *wire.Envelope, qos byte) error
	PublishRetained(topic string, env *wire.Envelope, qos byte) error
	Subscribe(topic string, qos byte) error
	Route(filter string, fn transport.Handler) (cancel func())
}

// Record is the last known presence state of one member.
type Record struct {
	MemberID   string
	IsOnline   bool
	LastSeen   time.Time
	ActiveRoom string
}

// Tracker owns the presence view for the session.
type Tracker struct {
	tr  Transport
	log *slog.Logger

	typingEvery time.Duration

	mu      sync.RWMutex
	records map[string]Record

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	obsMu sync.RWMutex
	obs   map[int]func(Record)
	seq   int

	cancelRoute func()
}

// New creates a tracker and subscribes it to the tenant presence topic.
// typingEvery throttles outbound typing indicators per channel.
func New(tr Transport, typingEvery time.Duration, log *slog.Logger) (*Tracker, error) {
	if log == nil {
		log = slog.Default()
	}
	if typingEvery <= 0 {
		typingEvery = 2 * time.Second
	}

	presenceTopic, err := topics.Presence(tr.Tenant())
	if err != nil {
		return nil, err
	}
	if err := tr.Subscribe(presenceTopic, 1); err != nil {
		return nil, err
	}

	t := &Tracker{
		tr:          tr,
		log:         log.With("component", "presence"),
		typingEvery: typingEvery,
		records:     make(map[string]Record),
		limiters:    make(map[string]*rate.Limiter),
		obs:         make(map[int]func(Record)),
	}
	t.cancelRoute = tr.Route(presenceTopic, t.handle)
	return t, nil
}

// Close stops inbound tracking. It does not publish anything.
func (t *Tracker) Close() {
	if t.cancelRoute != nil {
		t.cancelRoute()
	}
}

// PublishPresence broadcasts the member's own online state, retained at
// QoS 1 so late subscribers see it immediately.
func (t *Tracker) PublishPresence(online bool, activeRoom string) error {
	presenceTopic, err := topics.Presence(t.tr.Tenant())
	if err != nil {
		return err
	}

	rec := Record{
		MemberID:   t.tr.MemberID(),
		IsOnline:   online,
		LastSeen:   time.Now().UTC(),
		ActiveRoom: activeRoom,
	}
	env, err := wire.NewChatEnvelope(t.tr.MemberID(), wire.PresenceEvent{
		MemberID:   rec.MemberID,
		IsOnline:   rec.IsOnline,
		LastSeen:   rec.LastSeen,
		ActiveRoom: rec.ActiveRoom,
	})
	if err != nil {
		return err
	}
	if err := t.tr.PublishRetained(presenceTopic, env, 1); err != nil {
		return err
	}

	// Own broadcasts are filtered inbound, so record locally.
	t.mu.Lock()
	t.records[rec.MemberID] = rec
	t.mu.Unlock()
	return nil
}

// PublishTyping sends a best-effort typing indicator to a chat channel at
// QoS 0. Indicators are throttled per channel; a suppressed "stopped typing"
// self-corrects through the receiver-side staleness timeout.
func (t *Tracker) PublishTyping(channelTopic string, isTyping bool) error {
	if !t.limiter(channelTopic).Allow() {
		return nil
	}

	env, err := wire.NewChatEnvelope(t.tr.MemberID(), wire.TypingEvent{
		MemberID: t.tr.MemberID(),
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return t.tr.Publish(channelTopic, env, 0)
}

// Get returns the last known record for a member.
func (t *Tracker) Get(memberID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[memberID]
	return rec, ok
}

// Snapshot returns the last known state of every member seen this session.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// OnChange registers an observer for presence updates of other members.
func (t *Tracker) OnChange(fn func(Record)) (cancel func()) {
	t.obsMu.Lock()
	t.seq++
	id := t.seq
	t.obs[id] = fn
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		delete(t.obs, id)
		t.obsMu.Unlock()
	}
}

func (t *Tracker) handle(_ string, env *wire.Envelope) {
	if env.SenderID == t.tr.MemberID() {
		// Never react to our own broadcast.
		return
	}
	if env.Type != wire.ChatPresence {
		return
	}

	ev, err := wire.DecodeChatEvent(env)
	if err != nil {
		t.log.Warn("dropping malformed presence event", "error", err)
		return
	}
	pe := ev.(wire.PresenceEvent)

	rec := Record{
		MemberID:   pe.MemberID,
		IsOnline:   pe.IsOnline,
		LastSeen:   pe.LastSeen,
		ActiveRoom: pe.ActiveRoom,
	}
	t.mu.Lock()
	t.records[rec.MemberID] = rec
	t.mu.Unlock()

	t.obsMu.RLock()
	fns := make([]func(Record), 0, len(t.obs))
	for _, fn := range t.obs {
		fns = append(fns, fn)
	}
	t.obsMu.RUnlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func (t *Tracker) limiter(channel string) *rate.Limiter {
	t.limMu.Lock()
	defer t.limMu.Unlock()
	lim, ok := t.limiters[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.typingEvery), 1)
		t.limiters[channel] = lim
	}
	return lim
}
