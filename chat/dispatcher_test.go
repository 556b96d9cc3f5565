// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/transport"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/wire"
)

type published struct {
	topic string
	env   *wire.Envelope
	qos   byte
}

type fakeTransport struct {
	mu       sync.Mutex
	member   string
	out      []published
	subs     map[string]int
	unsubs   []string
	handlers map[string]transport.Handler
}

func newFakeTransport(member string) *fakeTransport {
	return &fakeTransport{
		member:   member,
		subs:     make(map[string]int),
		handlers: make(map[string]transport.Handler),
	}
}

func (f *fakeTransport) MemberID() string { return f.member }

func (f *fakeTransport) Publish(topic string, env *wire.Envelope, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic: topic, env: env, qos: qos})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic]++
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, topic)
	return nil
}

func (f *fakeTransport) Route(filter string, fn transport.Handler) (cancel func()) {
	f.mu.Lock()
	f.handlers[filter] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, filter)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) deliver(t *testing.T, topic, sender string, ev wire.ChatEvent) {
	t.Helper()
	env, err := wire.NewChatEnvelope(sender, ev)
	require.NoError(t, err)
	f.mu.Lock()
	fn, ok := f.handlers[topic]
	f.mu.Unlock()
	require.True(t, ok, "no handler routed for %s", topic)
	fn(topic, env)
}

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

type captured struct {
	channel string
	ev      wire.ChatEvent
}

func collect(t *testing.T, d *Dispatcher) *[]captured {
	t.Helper()
	var got []captured
	var mu sync.Mutex
	cancel := d.OnEvent(func(channel string, ev wire.ChatEvent) {
		mu.Lock()
		got = append(got, captured{channel: channel, ev: ev})
		mu.Unlock()
	})
	t.Cleanup(cancel)
	return &got
}

const channel = "grace/community/youth/general"

func TestSendTextPublishesNewMessage(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))

	id, err := d.SendText(channel, "see you at practice", "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	out := ft.sent()
	require.Len(t, out, 1)
	assert.Equal(t, channel, out[0].topic)
	assert.Equal(t, byte(1), out[0].qos)
	assert.Equal(t, wire.ChatNewMessage, out[0].env.Type)

	ev, err := wire.DecodeChatEvent(out[0].env)
	require.NoError(t, err)
	msg := ev.(wire.NewMessageEvent).Message
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, channel, msg.Channel)
	assert.Equal(t, wire.MessageText, msg.Type)
	assert.False(t, msg.SentAt.IsZero())
}

func TestSendRequiresAttachedChannel(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)

	_, err := d.SendText(channel, "hello", "")
	assert.ErrorIs(t, err, ErrNotAttached)
	assert.ErrorIs(t, d.Edit(channel, "m1", "hi"), ErrNotAttached)
}

func TestInboundEventsReachListeners(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))
	got := collect(t, d)

	ft.deliver(t, channel, "bob", wire.NewMessageEvent{Message: wire.Message{
		ID: "m1", Channel: channel, SenderID: "bob", Type: wire.MessageText, Text: "amen",
	}})
	ft.deliver(t, channel, "bob", wire.ReactionEvent{MessageID: "m1", MemberID: "bob", Key: "heart", Added: true})
	ft.deliver(t, channel, "bob", wire.DeleteMessageEvent{MessageID: "m1"})

	require.Len(t, *got, 3)
	assert.Equal(t, channel, (*got)[0].channel)
	assert.IsType(t, wire.NewMessageEvent{}, (*got)[0].ev)
	assert.IsType(t, wire.ReactionEvent{}, (*got)[1].ev)
	assert.IsType(t, wire.DeleteMessageEvent{}, (*got)[2].ev)
}

func TestOwnTypingFilteredOthersDelivered(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))
	got := collect(t, d)

	ft.deliver(t, channel, "alice", wire.TypingEvent{MemberID: "alice", IsTyping: true})
	ft.deliver(t, channel, "bob", wire.TypingEvent{MemberID: "bob", IsTyping: true})

	require.Len(t, *got, 1)
	assert.Equal(t, "bob", (*got)[0].ev.(wire.TypingEvent).MemberID)
}

func TestOwnMessageEchoDelivered(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))
	got := collect(t, d)

	ft.deliver(t, channel, "alice", wire.NewMessageEvent{Message: wire.Message{
		ID: "m1", SenderID: "alice", Type: wire.MessageText, Text: "echo",
	}})

	require.Len(t, *got, 1)
}

func TestTypingPublishedBestEffort(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))

	require.NoError(t, d.Typing(channel, true))

	out := ft.sent()
	require.Len(t, out, 1)
	assert.Equal(t, byte(0), out[0].qos)
	assert.Equal(t, wire.ChatTyping, out[0].env.Type)
}

func TestAttachIsIdempotent(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))
	require.NoError(t, d.Attach(channel))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, 1, ft.subs[channel])
}

func TestDetachStopsDelivery(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))
	got := collect(t, d)

	require.NoError(t, d.Detach(channel))
	assert.Contains(t, ft.unsubs, channel)

	ft.mu.Lock()
	_, routed := ft.handlers[channel]
	ft.mu.Unlock()
	assert.False(t, routed)
	assert.Empty(t, *got)
}

func TestMalformedEventDropped(t *testing.T) {
	ft := newFakeTransport("alice")
	d := New(ft, nil)
	require.NoError(t, d.Attach(channel))
	got := collect(t, d)

	env, err := wire.NewEnvelope("no_such_event", "bob", map[string]string{"x": "y"})
	require.NoError(t, err)
	ft.mu.Lock()
	fn := ft.handlers[channel]
	ft.mu.Unlock()
	fn(channel, env)

	assert.Empty(t, *got)
}
