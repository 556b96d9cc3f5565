// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package transport

import "errors"

// Transport errors.
var (
	// Configuration errors.
	ErrNoBrokerURL   = errors.New("no broker URL configured")
	ErrNoTenant      = errors.New("tenant id cannot be empty")
	ErrNoMember      = errors.New("member id cannot be empty")
	ErrNoCredentials = errors.New("bearer token required for non-local connections")

	// Connection errors.
	ErrNotConnected   = errors.New("client not connected")
	ErrConnectTimeout = errors.New("connection timeout")
	ErrAuthRejected   = errors.New("broker rejected credentials")
	ErrBrokerUnreach  = errors.New("broker unreachable")
	ErrOffline        = errors.New("reconnect budget exhausted, client offline")
	ErrClientClosed   = errors.New("client has been closed")

	// Operation errors.
	ErrInvalidQoS      = errors.New("invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrPublishTimeout  = errors.New("publish ack timeout")
	ErrSubscribeFailed = errors.New("subscription failed")
)
