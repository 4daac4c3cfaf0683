package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "codeintel"

// Metrics holds all codeintel metric instruments.
type Metrics struct {
	Requests        metric.Int64Counter
	RequestErrors   metric.Int64Counter
	RequestTimeouts metric.Int64Counter
	RequestDuration metric.Float64Histogram
	Spawns          metric.Int64Counter
	SpawnFailures   metric.Int64Counter
	Evictions       metric.Int64Counter
	Connections     metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Requests, err = meter.Int64Counter("codeintel.lsp.requests",
		metric.WithDescription("Number of code-intelligence requests"))
	if err != nil {
		return nil, err
	}

	m.RequestErrors, err = meter.Int64Counter("codeintel.lsp.request_errors",
		metric.WithDescription("Number of failed code-intelligence requests"))
	if err != nil {
		return nil, err
	}

	m.RequestTimeouts, err = meter.Int64Counter("codeintel.lsp.request_timeouts",
		metric.WithDescription("Number of requests that timed out waiting for a language server"))
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("codeintel.lsp.request.duration_seconds",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Spawns, err = meter.Int64Counter("codeintel.lsp.spawns",
		metric.WithDescription("Number of language server processes started"))
	if err != nil {
		return nil, err
	}

	m.SpawnFailures, err = meter.Int64Counter("codeintel.lsp.spawn_failures",
		metric.WithDescription("Number of failed language server starts"))
	if err != nil {
		return nil, err
	}

	m.Evictions, err = meter.Int64Counter("codeintel.lsp.evictions",
		metric.WithDescription("Number of idle connections stopped by the sweeper"))
	if err != nil {
		return nil, err
	}

	m.Connections, err = meter.Int64UpDownCounter("codeintel.lsp.connections",
		metric.WithDescription("Number of live language server connections"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest counts one finished request. A nil receiver is a no-op.
func (m *Metrics) RecordRequest(ctx context.Context, op, serverID string, elapsed time.Duration, err error, timedOut bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("server", serverID),
	)
	m.Requests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.RequestErrors.Add(ctx, 1, attrs)
	}
	if timedOut {
		m.RequestTimeouts.Add(ctx, 1, attrs)
	}
}

// RecordSpawn counts a spawn attempt. A nil receiver is a no-op.
func (m *Metrics) RecordSpawn(ctx context.Context, serverID string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("server", serverID))
	if err != nil {
		m.SpawnFailures.Add(ctx, 1, attrs)
		return
	}
	m.Spawns.Add(ctx, 1, attrs)
	m.Connections.Add(ctx, 1, attrs)
}

// RecordStop counts a connection leaving the pool. A nil receiver is a no-op.
func (m *Metrics) RecordStop(ctx context.Context, serverID string, evicted bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("server", serverID))
	m.Connections.Add(ctx, -1, attrs)
	if evicted {
		m.Evictions.Add(ctx, 1, attrs)
	}
}
