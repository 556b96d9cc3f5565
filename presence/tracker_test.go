// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/transport"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/wire"
)

type published struct {
	topic    string
	env      *wire.Envelope
	qos      byte
	retained bool
}

type fakeTransport struct {
	mu       sync.Mutex
	tenant   string
	member   string
	out      []published
	subs     []string
	handlers map[string]transport.Handler
}

func newFakeTransport(tenant, member string) *fakeTransport {
	return &fakeTransport{
		tenant:   tenant,
		member:   member,
		handlers: make(map[string]transport.Handler),
	}
}

func (f *fakeTransport) Tenant() string   { return f.tenant }
func (f *fakeTransport) MemberID() string { return f.member }

func (f *fakeTransport) Publish(topic string, env *wire.Envelope, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic: topic, env: env, qos: qos})
	return nil
}

func (f *fakeTransport) PublishRetained(topic string, env *wire.Envelope, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic: topic, env: env, qos: qos, retained: true})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, topic)
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

func TestPublishPresenceRetained(t *testing.T) {
	ft := newFakeTransport("grace", "alice")
	tr, err := New(ft, time.Second, nil)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.PublishPresence(true, "grace/community/youth/general"))

	out := ft.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "grace/presence", out[0].topic)
	assert.Equal(t, byte(1), out[0].qos)
	assert.True(t, out[0].retained)
	assert.Equal(t, wire.ChatPresence, out[0].env.Type)

	rec, ok := tr.Get("alice")
	require.True(t, ok)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, "grace/community/youth/general", rec.ActiveRoom)
}

func TestInboundPresenceUpdatesRecords(t *testing.T) {
	ft := newFakeTransport("grace", "alice")
	tr, err := New(ft, time.Second, nil)
	require.NoError(t, err)
	defer tr.Close()

	var got []Record
	cancel := tr.OnChange(func(r Record) { got = append(got, r) })
	defer cancel()

	seen := time.Now().UTC().Truncate(time.Second)
	ft.deliver(t, "grace/presence", "bob", wire.PresenceEvent{
		MemberID: "bob",
		IsOnline: true,
		LastSeen: seen,
	})
	ft.deliver(t, "grace/presence", "bob", wire.PresenceEvent{
		MemberID: "bob",
		IsOnline: false,
		LastSeen: seen.Add(time.Minute),
	})

	rec, ok := tr.Get("bob")
	require.True(t, ok)
	assert.False(t, rec.IsOnline)
	assert.Equal(t, seen.Add(time.Minute), rec.LastSeen)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsOnline)
	assert.False(t, got[1].IsOnline)
}

func TestOwnPresenceEchoIgnored(t *testing.T) {
	ft := newFakeTransport("grace", "alice")
	tr, err := New(ft, time.Second, nil)
	require.NoError(t, err)
	defer tr.Close()

	fired := 0
	cancel := tr.OnChange(func(Record) { fired++ })
	defer cancel()

	ft.deliver(t, "grace/presence", "alice", wire.PresenceEvent{
		MemberID: "alice",
		IsOnline: true,
		LastSeen: time.Now().UTC(),
	})

	assert.Zero(t, fired)
}

func TestTypingThrottledPerChannel(t *testing.T) {
	ft := newFakeTransport("grace", "alice")
	tr, err := New(ft, time.Hour, nil)
	require.NoError(t, err)
	defer tr.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.PublishTyping("grace/community/youth/general", true))
	}
	require.NoError(t, tr.PublishTyping("grace/community/choir/general", true))

	out := ft.sent()
	require.Len(t, out, 2)
	assert.Equal(t, "grace/community/youth/general", out[0].topic)
	assert.Equal(t, byte(0), out[0].qos)
	assert.Equal(t, "grace/community/choir/general", out[1].topic)
}

func TestSnapshotListsKnownMembers(t *testing.T) {
	ft := newFakeTransport("grace", "alice")
	tr, err := New(ft, time.Second, nil)
	require.NoError(t, err)
	defer tr.Close()

	ft.deliver(t, "grace/presence", "bob", wire.PresenceEvent{MemberID: "bob", IsOnline: true})
	ft.deliver(t, "grace/presence", "carol", wire.PresenceEvent{MemberID: "carol", IsOnline: true})

	snap := tr.Snapshot()
	assert.Len(t, snap, 2)
}
