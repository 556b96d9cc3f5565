// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package transport owns the single persistent broker connection a signed-in
// member shares between chat and call signaling. It wraps the paho MQTT
// client with the pieces the platform needs on top of it: a last-will
// presence message, an idempotent subscription set replayed on every
// reconnect, bounded fixed-interval reconnection, and envelope-level routing
// to registered handlers off the network read path.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/topics"
	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/wire"
)

// Handler receives decoded envelopes for topics matching a route filter.
// Handlers run on the dispatch goroutine: anything slow must hand off.
type Handler func(topic string, env *wire.Envelope)

// StatusHandler observes connection status changes. err is non-nil when the
// change was caused by a failure (lost connection, exhausted reconnects).
type StatusHandler func(status Status, err error)

type route struct {
	filter string
	fn     Handler
}

type inbound struct {
	topic   string
	payload []byte
}

// Client is the shared transport client. One instance per authenticated
// session; screens register routes against it instead of opening their own
// connections.
type Client struct {
	opts *Options
	log  *slog.Logger
	met  *metrics

	state         *stateManager
	wantConnected atomic.Bool

	mu       sync.Mutex
	paho     mqtt.Client
	clientID string

	presenceTopic string

	subs *subscriptionRegistry

	routeMu  sync.RWMutex
	routes   map[int]route
	routeSeq int

	statusMu  sync.RWMutex
	statusFns map[int]StatusHandler
	statusSeq int

	inboundCh chan inbound
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once

	reconnMu sync.Mutex
}

// New creates a transport client. The connection is not opened until Connect.
func New(opts *Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	presenceTopic, err := topics.Presence(opts.TenantID)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	met, err := newMetrics()
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:          opts,
		log:           log.With("component", "transport", "member", opts.MemberID),
		met:           met,
		state:         newStateManager(),
		clientID:      opts.clientID(),
		presenceTopic: presenceTopic,
		subs:          newSubscriptionRegistry(),
		routes:        make(map[int]route),
		statusFns:     make(map[int]StatusHandler),
		inboundCh:     make(chan inbound, 256),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go c.dispatchLoop()
	return c, nil
}

// Tenant returns the tenant all of this client's topics are scoped to.
func (c *Client) Tenant() string { return c.opts.TenantID }

// MemberID returns the authenticated member this client publishes as.
func (c *Client) MemberID() string { return c.opts.MemberID }

// ClientID returns the session-unique broker client identifier.
func (c *Client) ClientID() string { return c.clientID }

// Status returns the current connection status.
func (c *Client) Status() Status { return c.state.get() }

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool { return c.state.isConnected() }

// Connect establishes the broker session. It is idempotent: calling it while
// already connected or connecting is a no-op. The last-will offline presence
// message is registered with the broker as part of the CONNECT handshake.
func (c *Client) Connect(ctx context.Context) error {
	if c.state.isClosed() {
		return ErrClientClosed
	}
	if !c.state.transitionFrom(StatusConnecting, StatusDisconnected, StatusOffline) {
		return nil
	}
	c.wantConnected.Store(true)
	c.notifyStatus(StatusConnecting, nil)

	c.mu.Lock()
	if c.paho == nil {
		c.paho = mqtt.NewClient(c.pahoOptions())
	}
	p := c.paho
	c.mu.Unlock()

	tok := p.Connect()
	select {
	case <-ctx.Done():
		p.Disconnect(0)
		c.state.set(StatusDisconnected)
		c.notifyStatus(StatusDisconnected, ctx.Err())
		return ctx.Err()
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		wrapped := classifyConnectError(err)
		c.state.set(StatusDisconnected)
		c.notifyStatus(StatusDisconnected, wrapped)
		return wrapped
	}

	c.state.set(StatusConnected)
	c.log.Info("connected", "broker", c.opts.BrokerURL, "client_id", c.clientID)
	c.notifyStatus(StatusConnected, nil)
	return nil
}

// Disconnect publishes an explicit offline presence update (the broker only
// fires the last will on unclean drops), tears the session down, and clears
// the in-memory subscription set. Safe to call in any state.
func (c *Client) Disconnect() error {
	c.wantConnected.Store(false)

	if c.state.transition(StatusConnected, StatusDisconnected) {
		c.publishOfflinePresence()
		c.mu.Lock()
		p := c.paho
		c.mu.Unlock()
		if p != nil {
			p.Disconnect(250)
		}
		c.log.Info("disconnected")
		c.notifyStatus(StatusDisconnected, nil)
	} else {
		c.state.transitionFrom(StatusDisconnected, StatusConnecting, StatusOffline)
	}

	c.subs.clear()
	return nil
}

// Close permanently disposes the client. A closed client cannot reconnect.
func (c *Client) Close() error {
	if c.state.isClosed() {
		return nil
	}
	c.Disconnect()
	c.state.set(StatusClosed)
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
	return nil
}

// Subscribe adds topic to the subscription set at the given QoS. Subscribing
// twice to the same topic is a no-op. While disconnected the subscription is
// queued; the whole set is replayed after every successful (re)connect.
func (c *Client) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if c.state.isClosed() {
		return ErrClientClosed
	}
	if !c.subs.set(topic, qos) {
		return nil
	}
	if !c.state.isConnected() {
		c.log.Debug("subscribe queued until connect", "topic", topic)
		return nil
	}

	c.mu.Lock()
	p := c.paho
	c.mu.Unlock()
	if p == nil {
		return nil
	}

	tok := p.Subscribe(topic, qos, nil)
	if !tok.WaitTimeout(c.opts.PublishTimeout) {
		// Non-fatal: the registry entry survives and replay picks it up.
		c.log.Warn("subscribe ack timeout, will retry on reconnect", "topic", topic)
		return nil
	}
	if err := tok.Error(); err != nil {
		c.log.Warn("subscribe failed, will retry on reconnect", "topic", topic, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe removes topic from the subscription set.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.subs.remove(topic) {
		return nil
	}
	if !c.state.isConnected() {
		return nil
	}

	c.mu.Lock()
	p := c.paho
	c.mu.Unlock()
	if p == nil {
		return nil
	}

	tok := p.Unsubscribe(topic)
	if !tok.WaitTimeout(c.opts.PublishTimeout) || tok.Error() != nil {
		c.log.Warn("unsubscribe incomplete", "topic", topic, "error", tok.Error())
	}
	return nil
}

// Publish sends env to topic at the given QoS. The call waits only for the
// broker's QoS handshake, never for application-level acknowledgement.
func (c *Client) Publish(topic string, env *wire.Envelope, qos byte) error {
	return c.publish(topic, env, qos, false)
}

// PublishRetained is Publish with the broker retain flag set, so late
// subscribers immediately receive the last value. Used for presence.
func (c *Client) PublishRetained(topic string, env *wire.Envelope, qos byte) error {
	return c.publish(topic, env, qos, true)
}

func (c *Client) publish(topic string, env *wire.Envelope, qos byte, retain bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if !c.state.isConnected() {
		return ErrNotConnected
	}

	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	p := c.paho
	c.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}

	tok := p.Publish(topic, qos, retain, payload)
	if qos == 0 {
		return nil
	}
	if !tok.WaitTimeout(c.opts.PublishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return tok.Error()
}

// Route registers fn for every inbound envelope whose topic matches filter
// (MQTT wildcards allowed). The returned cancel removes the registration;
// screens must call it when they go away.
func (c *Client) Route(filter string, fn Handler) (cancel func()) {
	c.routeMu.Lock()
	c.routeSeq++
	id := c.routeSeq
	c.routes[id] = route{filter: filter, fn: fn}
	c.routeMu.Unlock()

	return func() {
		c.routeMu.Lock()
		delete(c.routes, id)
		c.routeMu.Unlock()
	}
}

// OnStatus registers a connection status observer.
func (c *Client) OnStatus(fn StatusHandler) (cancel func()) {
	c.statusMu.Lock()
	c.statusSeq++
	id := c.statusSeq
	c.statusFns[id] = fn
	c.statusMu.Unlock()

	return func() {
		c.statusMu.Lock()
		delete(c.statusFns, id)
		c.statusMu.Unlock()
	}
}

// SubscriptionCount reports the size of the desired subscription set.
func (c *Client) SubscriptionCount() int {
	return c.subs.count()
}

func (c *Client) pahoOptions() *mqtt.ClientOptions {
	will, _ := wire.NewEnvelope(wire.ChatPresence, c.opts.MemberID, wire.PresenceEvent{
		MemberID: c.opts.MemberID,
		IsOnline: false,
		LastSeen: time.Now().UTC(),
	})
	willPayload, _ := will.Marshal()

	o := mqtt.NewClientOptions().
		AddBroker(c.opts.BrokerURL).
		SetClientID(c.clientID).
		SetUsername(c.opts.MemberID).
		SetPassword(c.opts.Token).
		SetCleanSession(true).
		SetKeepAlive(c.opts.KeepAlive).
		SetConnectTimeout(c.opts.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetBinaryWill(c.presenceTopic, willPayload, 1, true).
		SetDefaultPublishHandler(c.onMessage).
		SetConnectionLostHandler(c.onConnectionLost).
		SetOnConnectHandler(c.onConnect)
	return o
}

// onConnect replays the full subscription set. Runs for the initial connect
// and every reconnect.
func (c *Client) onConnect(p mqtt.Client) {
	snap := c.subs.snapshot()
	if len(snap) == 0 {
		return
	}
	tok := p.SubscribeMultiple(snap, nil)
	if !tok.WaitTimeout(c.opts.PublishTimeout) || tok.Error() != nil {
		c.log.Warn("subscription replay incomplete", "count", len(snap), "error", tok.Error())
		return
	}
	c.log.Debug("subscriptions replayed", "count", len(snap))
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	if !c.state.transition(StatusConnected, StatusDisconnected) {
		return
	}
	c.met.lost()
	c.log.Warn("connection lost", "error", err)
	c.notifyStatus(StatusDisconnected, err)

	if c.wantConnected.Load() && !c.state.isClosed() {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries at a fixed interval up to the configured bound, then
// parks the client in the terminal offline status.
func (c *Client) reconnectLoop() {
	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()

	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.opts.ReconnectInterval):
		}
		if !c.wantConnected.Load() || c.state.isClosed() {
			return
		}

		c.met.attempt()
		c.log.Info("reconnecting", "attempt", attempt, "max", c.opts.ReconnectAttempts)
		if err := c.Connect(context.Background()); err == nil {
			return
		}
	}

	if c.state.transition(StatusDisconnected, StatusOffline) {
		c.log.Error("reconnect budget exhausted, client offline")
		c.notifyStatus(StatusOffline, ErrOffline)
	}
}

// onMessage is the paho inbound entry point. It only hands off: decoding and
// handler fan-out happen on the dispatch goroutine, keeping the network read
// path unblocked.
func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case c.inboundCh <- inbound{topic: msg.Topic(), payload: msg.Payload()}:
	case <-c.stopCh:
	}
}

func (c *Client) dispatchLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		case in := <-c.inboundCh:
			env, err := wire.Unmarshal(in.payload)
			if err != nil {
				// One bad message never takes the subscription down.
				c.met.malformed()
				c.log.Warn("dropping malformed message", "topic", in.topic, "error", err)
				continue
			}
			for _, r := range c.routeSnapshot() {
				if topics.Match(r.filter, in.topic) {
					r.fn(in.topic, env)
				}
			}
		}
	}
}

func (c *Client) routeSnapshot() []route {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	out := make([]route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	return out
}

func (c *Client) notifyStatus(s Status, err error) {
	c.statusMu.RLock()
	fns := make([]StatusHandler, 0, len(c.statusFns))
	for _, fn := range c.statusFns {
		fns = append(fns, fn)
	}
	c.statusMu.RUnlock()

	for _, fn := range fns {
		fn(s, err)
	}
}

func (c *Client) publishOfflinePresence() {
	env, err := wire.NewEnvelope(wire.ChatPresence, c.opts.MemberID, wire.PresenceEvent{
		MemberID: c.opts.MemberID,
		IsOnline: false,
		LastSeen: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.publish(c.presenceTopic, env, 1, true); err != nil {
		c.log.Debug("offline presence publish failed", "error", err)
	}
}

func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrBrokerUnreach, err)
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
