package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for kernel spans.
var (
	AttrTaskID      = attribute.Key("cortexos.task.id")
	AttrAgentID     = attribute.Key("cortexos.agent.id")
	AttrEnvironment = attribute.Key("cortexos.environment")
	AttrContainerID = attribute.Key("cortexos.container.id")
	AttrModel       = attribute.Key("cortexos.router.model")
	AttrTier        = attribute.Key("cortexos.router.tier")
	AttrPeerID      = attribute.Key("cortexos.federation.peer.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (A2A Gateway, CADP endpoint).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (worker adapter, CADP peer call, push webhook).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
