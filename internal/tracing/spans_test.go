package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// installTestTracer swaps in an in-memory exporter as the global provider
// for the duration of one test.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
	return exporter
}

// attrMap flattens a recorded span's attributes for assertions.
func attrMap(s tracetest.SpanStub) map[string]any {
	out := make(map[string]any, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func finishedSpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d finished spans, want 1", len(spans))
	}
	return spans[0]
}

func TestStartStepSpan(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := StartStepSpan(context.Background(), "scrape", "sess-1")
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("context does not carry a live span")
	}
	span.End()

	got := finishedSpan(t, exporter)
	if got.Name != "step.scrape" {
		t.Errorf("span name = %q, want step.scrape", got.Name)
	}
	attrs := attrMap(got)
	if attrs["step.name"] != "scrape" || attrs["session.id"] != "sess-1" {
		t.Errorf("span attributes = %v", attrs)
	}
}

func TestStartUpstreamSpan(t *testing.T) {
	exporter := installTestTracer(t)

	_, span := StartUpstreamSpan(context.Background(), "https://eodhd.com/api/exchanges-list", "eodhd")
	span.End()

	got := finishedSpan(t, exporter)
	if got.Name != "upstream.fetch" {
		t.Errorf("span name = %q, want upstream.fetch", got.Name)
	}
	if got.SpanKind != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", got.SpanKind)
	}
	if attrs := attrMap(got); attrs["upstream.provider"] != "eodhd" {
		t.Errorf("span attributes = %v", attrs)
	}
}

func TestInjectHeaders_CarriesTraceID(t *testing.T) {
	installTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "parent")
	defer span.End()

	req, _ := http.NewRequest(http.MethodGet, "https://eodhd.com/api/fundamentals/AAPL.US", nil)
	InjectHeaders(ctx, req)

	// W3C format: version-traceid-spanid-flags.
	tp := req.Header.Get("traceparent")
	if len(tp) < 55 {
		t.Fatalf("traceparent header missing or truncated: %q", tp)
	}
	if want := span.SpanContext().TraceID().String(); tp[3:35] != want {
		t.Errorf("traceparent trace id = %s, want %s", tp[3:35], want)
	}
}

func TestSetStepResult(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "step.screener")
	SetStepResult(ctx, "complete", 42)
	span.End()

	attrs := attrMap(finishedSpan(t, exporter))
	if attrs["step.status"] != "complete" {
		t.Errorf("step.status = %v, want complete", attrs["step.status"])
	}
	if attrs["step.items"] != int64(42) {
		t.Errorf("step.items = %v, want 42", attrs["step.items"])
	}
}

func TestSetCacheAttributes(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "step.scrape")
	SetCacheAttributes(ctx, true, "grand-portfolio")
	span.End()

	attrs := attrMap(finishedSpan(t, exporter))
	if attrs["cache.hit"] != true || attrs["cache.key"] != "grand-portfolio" {
		t.Errorf("cache attributes = %v", attrs)
	}
}

func TestRecordError(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "step.universe")
	RecordError(ctx, errors.New("upstream timeout"))
	span.End()

	got := finishedSpan(t, exporter)
	if len(got.Events) == 0 {
		t.Fatal("no error event recorded on the span")
	}
	if got.Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", got.Status.Code)
	}
}

func TestRecordError_NilIsNoop(t *testing.T) {
	RecordError(context.Background(), nil)
}
