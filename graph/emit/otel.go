package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter converts envelopes into OpenTelemetry spans.
//
// Each envelope becomes a zero-duration span named "<type>/<event>"
// with the envelope fields and payload keys as attributes. Error
// envelopes set the span status to Error. The emitter never blocks
// the run: span export is handled by the configured span processor.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter using the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records one envelope as a span.
func (o *OTelEmitter) Emit(e Envelope) {
	if o.tracer == nil {
		return
	}

	_, span := o.tracer.Start(context.Background(), e.Type+"/"+e.Event)
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("envelope.type", e.Type),
		attribute.String("envelope.event", e.Event),
		attribute.String("envelope.node", e.Node),
		attribute.Int64("envelope.timestamp_ms", e.TimestampMS),
	}
	for k, v := range e.Payload {
		attrs = append(attrs, payloadAttribute("payload."+k, v))
	}
	span.SetAttributes(attrs...)

	if e.Type == TypeError {
		msg, _ := e.Payload["error"].(string)
		span.SetStatus(codes.Error, msg)
	}
}

func payloadAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, fmt.Sprintf("%v", val))
	}
}
