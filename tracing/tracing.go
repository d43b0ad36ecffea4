// Package tracing wires OpenTelemetry into the query cache. Spans are only
// recorded when a [Config] is supplied; a nil *Config yields no-op spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "github.com/Keksclan/querycache"

var noopTracer = noop.NewTracerProvider().Tracer(instrumentation)

// Attribute keys set on cache spans.
const (
	AttrKey     = attribute.Key("cache.key")
	AttrPattern = attribute.Key("cache.pattern")
	AttrTier    = attribute.Key("cache.tier")
	AttrHit     = attribute.Key("cache.hit")
	AttrRemoved = attribute.Key("cache.removed")
)

// Tier values reported in AttrTier.
const (
	TierL1    = "l1"
	TierL2    = "l2"
	TierFetch = "fetch"
	TierNone  = "none"
)

// Config holds the OpenTelemetry settings shared by cache spans and the
// admin server interceptor.
type Config struct {
	// TracerProvider supplies the Tracer. When nil the global
	// otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// Propagators extracts trace context from incoming admin requests.
	// When nil the global otel.GetTextMapPropagator() is used.
	Propagators propagation.TextMapPropagator
}

func (c *Config) tracer() trace.Tracer {
	if c == nil {
		return noopTracer
	}
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentation)
}

func (c *Config) propagators() propagation.TextMapPropagator {
	if c != nil && c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}

// Start opens an internal span named "querycache.<op>".
func (c *Config) Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer().Start(ctx, "querycache."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// Served marks where a read was answered from.
func Served(span trace.Span, tier string) {
	span.SetAttributes(AttrTier.String(tier), AttrHit.Bool(tier == TierL1 || tier == TierL2))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
