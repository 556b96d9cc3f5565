// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the engine's OpenTelemetry instruments. A stale signal is
// dropped silently as far as the user is concerned, but counted here so a
// flood of them is still visible to operators.
type metrics struct {
	staleSignals metric.Int64Counter
	busyRejects  metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("faithflow-call")
	m := &metrics{}

	var err error
	m.staleSignals, err = meter.Int64Counter(
		"faithflow.call.stale_signals.total",
		metric.WithDescription("Signals dropped for carrying an unknown or ended call id"),
	)
	if err != nil {
		return nil, fmt.Errorf("create staleSignals counter: %w", err)
	}

	m.busyRejects, err = meter.Int64Counter(
		"faithflow.call.busy_rejects.total",
		metric.WithDescription("Invites auto-answered with busy while already in a call"),
	)
	if err != nil {
		return nil, fmt.Errorf("create busyRejects counter: %w", err)
	}

	return m, nil
}

func (m *metrics) stale() { m.staleSignals.Add(context.Background(), 1) }
func (m *metrics) busy()  { m.busyRejects.Add(context.Background(), 1) }
