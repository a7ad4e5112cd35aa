package emit

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testOTelEmitter(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return NewOTelEmitter(tp.Tracer("test")), exporter
}

func TestOTelEmitterRecordsEnvelopeAsSpan(t *testing.T) {
	emitter, exporter := testOTelEmitter(t)

	emitter.Emit(Custom("supervisor_decision", "supervisor", map[string]any{
		"decision":  "research",
		"iteration": 2,
	}))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "custom/supervisor_decision" {
		t.Errorf("span name = %q", span.Name)
	}

	attrs := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["envelope.node"].AsString(); got != "supervisor" {
		t.Errorf("envelope.node = %q", got)
	}
	if got := attrs["payload.decision"].AsString(); got != "research" {
		t.Errorf("payload.decision = %q", got)
	}
	if got := attrs["payload.iteration"].AsInt64(); got != 2 {
		t.Errorf("payload.iteration = %d", got)
	}
	if span.Status.Code == codes.Error {
		t.Error("custom envelope must not set error status")
	}
}

func TestOTelEmitterMarksErrorEnvelopes(t *testing.T) {
	emitter, exporter := testOTelEmitter(t)

	emitter.Emit(Error("model unavailable"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "model unavailable" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
}
