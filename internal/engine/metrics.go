package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voltline.engine"

// Metrics holds the engine's instruments. They bind to the global meter
// provider, which is a no-op until the binary installs one.
type Metrics struct {
	transitions  metric.Int64Counter
	rejections   metric.Int64Counter
	issues       metric.Int64Counter
	statsLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
}

func NewMetrics() *Metrics {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	// Instrument constructors only fail on invalid names; a nil instrument
	// is skipped at record time.
	m.transitions, _ = meter.Int64Counter("voltline.task.transitions",
		metric.WithDescription("Committed work order transitions"),
		metric.WithUnit("{transition}"))
	m.rejections, _ = meter.Int64Counter("voltline.task.rejections",
		metric.WithDescription("Rejected core operations by error kind"),
		metric.WithUnit("{error}"))
	m.issues, _ = meter.Int64Counter("voltline.issues.reported",
		metric.WithDescription("Issues escalated from the field"),
		metric.WithUnit("{issue}"))
	m.statsLatency, _ = meter.Float64Histogram("voltline.stats.duration",
		metric.WithDescription("Snapshot load and aggregation latency"),
		metric.WithUnit("s"))
	m.cacheHits, _ = meter.Int64Counter("voltline.stats.cache_hits",
		metric.WithDescription("Aggregate queries served from cache"),
		metric.WithUnit("{hit}"))
	return m
}

func (m *Metrics) transition(ctx context.Context, from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

func (m *Metrics) rejected(ctx context.Context, op, kind string) {
	if m == nil || m.rejections == nil || kind == "" {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("kind", kind)))
}

func (m *Metrics) issueReported(ctx context.Context, priority string) {
	if m == nil || m.issues == nil {
		return
	}
	m.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", priority)))
}

func (m *Metrics) statsComputed(ctx context.Context, query string, d time.Duration, cached bool) {
	if m == nil {
		return
	}
	if cached {
		if m.cacheHits != nil {
			m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("query", query)))
		}
		return
	}
	if m.statsLatency != nil {
		m.statsLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("query", query)))
	}
}
