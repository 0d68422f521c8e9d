// Package observe provides the OpenTelemetry metric instruments recorded by
// the session controller and the connection handle.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped from /metrics.
// Tests should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/voxhq/vox"

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// Transitions counts reducer transitions. Attributes: event, from, to.
	Transitions metric.Int64Counter

	// StartDuration tracks how long the handle takes to confirm a start.
	// Attribute: outcome ("ok", "error", "stale").
	StartDuration metric.Float64Histogram

	// StaleStarts counts start resolutions dropped because a stop, a
	// re-initialization or a close happened while they were pending.
	StaleStarts metric.Int64Counter

	// HandleReplacements counts connection handles created by Initialize.
	HandleReplacements metric.Int64Counter

	// InboundEvents counts events delivered by the handle. Attribute: kind.
	InboundEvents metric.Int64Counter

	// Reconnects counts event-stream reconnection attempts. Attribute: outcome.
	Reconnects metric.Int64Counter
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Transitions, err = m.Int64Counter("vox.session.transitions",
		metric.WithDescription("Session state machine transitions."),
	); err != nil {
		return nil, err
	}
	if met.StartDuration, err = m.Float64Histogram("vox.session.start.duration",
		metric.WithDescription("Latency between a start request and its confirmation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StaleStarts, err = m.Int64Counter("vox.session.start.stale",
		metric.WithDescription("Start resolutions dropped after the session moved on."),
	); err != nil {
		return nil, err
	}
	if met.HandleReplacements, err = m.Int64Counter("vox.connection.replacements",
		metric.WithDescription("Connection handles created on credential or endpoint change."),
	); err != nil {
		return nil, err
	}
	if met.InboundEvents, err = m.Int64Counter("vox.connection.events",
		metric.WithDescription("Events received from the notes service."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("vox.connection.reconnects",
		metric.WithDescription("Event stream reconnection attempts."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordTransition counts one reducer transition.
func (m *Metrics) RecordTransition(ctx context.Context, event, from, to string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordStart observes a start round trip in seconds.
func (m *Metrics) RecordStart(ctx context.Context, seconds float64, outcome string) {
	m.StartDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "stale" {
		m.StaleStarts.Add(ctx, 1)
	}
}

// RecordInbound counts one inbound event of the given kind.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReconnect counts one reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
	discardOnce    sync.Once
	discard        *Metrics
)

// DefaultMetrics returns instruments bound to the global meter provider,
// created on first use.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			defaultMetrics = Discard()
		}
	})
	return defaultMetrics
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	discardOnce.Do(func() {
		// The noop provider never fails instrument creation.
		discard, _ = NewMetrics(noop.NewMeterProvider())
	})
	return discard
}
