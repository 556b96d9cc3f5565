// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Default values.
const (
	DefaultKeepAlive         = 60 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultPublishTimeout    = 5 * time.Second
	DefaultReconnectInterval = 3 * time.Second

	// DefaultReconnectAttempts suits the interactive app; background
	// builds (push-triggered sync) should fail fast with
	// BackgroundReconnectAttempts instead.
	DefaultReconnectAttempts    = 10
	BackgroundReconnectAttempts = 2
)

// Options configures the transport client.
type Options struct {
	// Connection
	BrokerURL      string        // tcp://, ssl:// or ws:// broker URL
	TenantID       string        // tenant scope for all topics
	MemberID       string        // authenticated member, used as principal
	Token          string        // bearer credential
	ClientIDPrefix string        // defaults to "faithflow"
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// Reconnection: fixed interval, bounded attempts, then terminal offline.
	ReconnectInterval time.Duration
	ReconnectAttempts int

	// AllowAnonymous permits an empty token. Local development only.
	AllowAnonymous bool

	Logger *slog.Logger
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		ClientIDPrefix:    "faithflow",
		KeepAlive:         DefaultKeepAlive,
		ConnectTimeout:    DefaultConnectTimeout,
		PublishTimeout:    DefaultPublishTimeout,
		ReconnectInterval: DefaultReconnectInterval,
		ReconnectAttempts: DefaultReconnectAttempts,
	}
}

// SetBroker sets the broker URL.
func (o *Options) SetBroker(url string) *Options {
	o.BrokerURL = url
	return o
}

// SetIdentity sets the tenant, member principal, and bearer token.
func (o *Options) SetIdentity(tenant, member, token string) *Options {
	o.TenantID = tenant
	o.MemberID = member
	o.Token = token
	return o
}

// SetReconnect sets the fixed reconnect interval and attempt bound.
func (o *Options) SetReconnect(interval time.Duration, attempts int) *Options {
	o.ReconnectInterval = interval
	o.ReconnectAttempts = attempts
	return o
}

// SetAllowAnonymous permits tokenless connections for local development.
func (o *Options) SetAllowAnonymous(allow bool) *Options {
	o.AllowAnonymous = allow
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// Validate checks the options, applying fallback defaults where a zero value
// has an obvious correction.
func (o *Options) Validate() error {
	if o.BrokerURL == "" {
		return ErrNoBrokerURL
	}
	if o.TenantID == "" {
		return ErrNoTenant
	}
	if o.MemberID == "" {
		return ErrNoMember
	}
	if o.Token == "" && !o.AllowAnonymous {
		return ErrNoCredentials
	}
	if o.ClientIDPrefix == "" {
		o.ClientIDPrefix = "faithflow"
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	return nil
}

// clientID builds a session-unique client identifier: two app sessions for
// the same member must not collide at the broker, or the second CONNECT
// evicts the first.
func (o *Options) clientID() string {
	return fmt.Sprintf("%s-%s-%s", o.ClientIDPrefix, o.MemberID, uuid.NewString()[:8])
}
