package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartStepSpan opens a span covering one pipeline step of a session.
func StartStepSpan(ctx context.Context, step, sessionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "step."+step, trace.WithAttributes(
		attribute.String("step.name", step),
		attribute.String("session.id", sessionID),
	))
}

// StartUpstreamSpan opens a client span for an HTTP call to a scrape target
// or market data provider.
func StartUpstreamSpan(ctx context.Context, url, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.provider", provider),
		),
	)
}

// InjectHeaders copies the current trace context into req's headers
// (traceparent, tracestate) so the upstream service can continue the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetStepResult records how a step ended on the current span.
func SetStepResult(ctx context.Context, status string, items int) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("step.status", status),
		attribute.Int("step.items", items),
	)
}

// SetCacheAttributes marks whether the current span's work was served from
// cache.
func SetCacheAttributes(ctx context.Context, hit bool, key string) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("cache.hit", hit),
		attribute.String("cache.key", key),
	)
}

// RecordError records err on the current span and marks the span as failed.
// A nil err is a no-op.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
