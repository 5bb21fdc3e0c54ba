package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/drblury/callflow"

const (
	spanSend     = "callflow.Send"
	spanAwait    = "callflow.Await"
	spanDispatch = "callflow.Dispatch"
)

// startSpan uses the global tracer provider, which is a no-op until the
// application installs one.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func endpointAttr(name string) attribute.KeyValue {
	return attribute.String("callflow.endpoint", name)
}

func correlationAttr(id string) attribute.KeyValue {
	return attribute.String("callflow.correlation_id", id)
}
