// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package chat publishes chat events and fans inbound ones out to listeners.
// The dispatcher classifies envelopes, nothing more: it applies exactly the
// fields each envelope carries and never deduplicates. Message ids are the
// idempotency key for whatever state layer sits above.
package chat

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/transport"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/wire"
)

// ErrNotAttached is returned when publishing to a channel the dispatcher is
// not attached to.
var ErrNotAttached = errors.New("chat: channel not attached")

// Transport is the slice of the transport client the dispatcher consumes.
type Transport interface {
	MemberID() string
	Publish(topic string, env *wire.Envelope, qos byte) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Route(filter string, fn transport.Handler) (cancel func())
}

// Listener receives one decoded event per inbound envelope, together with
// the channel topic it arrived on. Listeners run on the transport dispatch
// goroutine and must hand slow work off.
type Listener func(channel string, ev wire.ChatEvent)

// Dispatcher routes chat traffic for the set of attached channel topics.
// One per session, shared by every screen; screens attach and detach
// channels as they come and go.
type Dispatcher struct {
	tr  Transport
	log *slog.Logger

	mu       sync.Mutex
	channels map[string]func()

	obsMu sync.RWMutex
	obs   map[int]Listener
	seq   int
}

// New builds a dispatcher. No channels are attached yet.
func New(tr Transport, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		tr:       tr,
		log:      log.With("component", "chat"),
		channels: make(map[string]func()),
		obs:      make(map[int]Listener),
	}
}

// Attach subscribes a channel topic at QoS 1 and starts delivering its
// events to listeners. Attaching an already attached channel is a no-op.
func (d *Dispatcher) Attach(channelTopic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[channelTopic]; ok {
		return nil
	}
	if err := d.tr.Subscribe(channelTopic, 1); err != nil {
		return err
	}
	d.channels[channelTopic] = d.tr.Route(channelTopic, d.handle)
	return nil
}

// Detach stops delivery for a channel and unsubscribes it.
func (d *Dispatcher) Detach(channelTopic string) error {
	d.mu.Lock()
	cancel, ok := d.channels[channelTopic]
	delete(d.channels, channelTopic)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return d.tr.Unsubscribe(channelTopic)
}

// Close detaches every channel.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	chans := make([]string, 0, len(d.channels))
	for ch := range d.channels {
		chans = append(chans, ch)
	}
	d.mu.Unlock()
	for _, ch := range chans {
		if err := d.Detach(ch); err != nil {
			d.log.Warn("detach failed on close", "channel", ch, "error", err)
		}
	}
}

// OnEvent registers a listener for all attached channels.
func (d *Dispatcher) OnEvent(fn Listener) (cancel func()) {
	d.obsMu.Lock()
	d.seq++
	id := d.seq
	d.obs[id] = fn
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.obs, id)
		d.obsMu.Unlock()
	}
}

// SendText publishes a plain text message and returns its id.
func (d *Dispatcher) SendText(channelTopic, text, replyTo string) (string, error) {
	msg := wire.Message{
		Type:    wire.MessageText,
		Text:    text,
		ReplyTo: replyTo,
	}
	return d.Send(channelTopic, msg)
}

// Send publishes a prepared message. Missing id, sender, channel and
// timestamp fields are filled in; everything else goes out as given.
func (d *Dispatcher) Send(channelTopic string, msg wire.Message) (string, error) {
	if !d.attached(channelTopic) {
		return "", ErrNotAttached
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SenderID == "" {
		msg.SenderID = d.tr.MemberID()
	}
	if msg.Channel == "" {
		msg.Channel = channelTopic
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	env, err := wire.NewChatEnvelope(d.tr.MemberID(), wire.NewMessageEvent{Message: msg})
	if err != nil {
		return "", err
	}
	if err := d.tr.Publish(channelTopic, env, 1); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Edit publishes a text rewrite for an existing message.
func (d *Dispatcher) Edit(channelTopic, messageID, text string) error {
	return d.publishEvent(channelTopic, wire.EditMessageEvent{
		MessageID: messageID,
		Text:      text,
		EditedAt:  time.Now().UTC(),
	}, 1)
}

// Delete publishes a soft delete. The id stays behind as a tombstone.
func (d *Dispatcher) Delete(channelTopic, messageID string) error {
	return d.publishEvent(channelTopic, wire.DeleteMessageEvent{
		MessageID: messageID,
		DeletedAt: time.Now().UTC(),
	}, 1)
}

// React publishes a reaction add or remove for a message.
func (d *Dispatcher) React(channelTopic, messageID, key string, added bool) error {
	return d.publishEvent(channelTopic, wire.ReactionEvent{
		MessageID: messageID,
		MemberID:  d.tr.MemberID(),
		Key:       key,
		Added:     added,
	}, 1)
}

// Typing publishes a best-effort typing indicator at QoS 0. The dispatcher
// does not throttle; callers typing on every keystroke should go through
// the presence tracker, which rate-limits per channel.
func (d *Dispatcher) Typing(channelTopic string, isTyping bool) error {
	return d.publishEvent(channelTopic, wire.TypingEvent{
		MemberID: d.tr.MemberID(),
		IsTyping: isTyping,
	}, 0)
}

// MarkRead publishes a read receipt for a message.
func (d *Dispatcher) MarkRead(channelTopic, messageID string) error {
	return d.publishEvent(channelTopic, wire.ReadReceiptEvent{
		MessageID: messageID,
		MemberID:  d.tr.MemberID(),
		ReadAt:    time.Now().UTC(),
	}, 1)
}

func (d *Dispatcher) publishEvent(channelTopic string, ev wire.ChatEvent, qos byte) error {
	if !d.attached(channelTopic) {
		return ErrNotAttached
	}
	env, err := wire.NewChatEnvelope(d.tr.MemberID(), ev)
	if err != nil {
		return err
	}
	return d.tr.Publish(channelTopic, env, qos)
}

func (d *Dispatcher) attached(channelTopic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.channels[channelTopic]
	return ok
}

func (d *Dispatcher) handle(topic string, env *wire.Envelope) {
	// Own typing and presence broadcasts never round-trip to the UI.
	// Own messages do: the echo is the delivery confirmation.
	if env.SenderID == d.tr.MemberID() &&
		(env.Type == wire.ChatTyping || env.Type == wire.ChatPresence) {
		return
	}

	ev, err := wire.DecodeChatEvent(env)
	if err != nil {
		d.log.Debug("dropping undecodable chat event", "topic", topic, "type", env.Type, "error", err)
		return
	}

	d.obsMu.RLock()
	fns := make([]Listener, 0, len(d.obs))
	for _, fn := range d.obs {
		fns = append(fns, fn)
	}
	d.obsMu.RUnlock()
	for _, fn := range fns {
		fn(topic, ev)
	}
}
