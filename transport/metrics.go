// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the transport's OpenTelemetry instruments. With no meter
// provider installed these are no-ops, so the SDK never forces an
// observability stack on its host app.
type metrics struct {
	connectionsLost   metric.Int64Counter
	reconnectAttempts metric.Int64Counter
	malformedDropped  metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("faithflow-transport")
	m := &metrics{}

	var err error
	m.connectionsLost, err = meter.Int64Counter(
		"faithflow.transport.connections_lost.total",
		metric.WithDescription("Unexpected broker connection losses"),
	)
	if err != nil {
		return nil, fmt.Errorf("create connectionsLost counter: %w", err)
	}

	m.reconnectAttempts, err = meter.Int64Counter(
		"faithflow.transport.reconnect_attempts.total",
		metric.WithDescription("Reconnect attempts, successful or not"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconnectAttempts counter: %w", err)
	}

	m.malformedDropped, err = meter.Int64Counter(
		"faithflow.transport.malformed_dropped.total",
		metric.WithDescription("Inbound messages dropped for failing envelope decode"),
	)
	if err != nil {
		return nil, fmt.Errorf("create malformedDropped counter: %w", err)
	}

	return m, nil
}

func (m *metrics) lost()      { m.connectionsLost.Add(context.Background(), 1) }
func (m *metrics) attempt()   { m.reconnectAttempts.Add(context.Background(), 1) }
func (m *metrics) malformed() { m.malformedDropped.Add(context.Background(), 1) }
