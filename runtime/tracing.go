package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPanic is the sentinel error recorded on a span when a goroutine panics.
var ErrPanic = errors.New("panic")

// PanicSpanEventName is the span event name recorded when a panic is recovered.
const PanicSpanEventName = "panic.recovered"

// RecordPanicToSpan records a recovered panic as an event and error status on
// the span active in ctx. It is a no-op if ctx carries no recording span.
func RecordPanicToSpan(ctx context.Context, panicValue any, stack []byte, goroutineName string) {
	RecordPanicToSpanWithComponent(ctx, panicValue, stack, "", goroutineName)
}

// RecordPanicToSpanWithComponent is RecordPanicToSpan with an additional
// component tag, used when the panic originates from a named subsystem.
func RecordPanicToSpanWithComponent(ctx context.Context, panicValue any, stack []byte, component, goroutineName string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("panic.value", fmt.Sprintf("%v", panicValue)),
		attribute.String("panic.stack", string(stack)),
		attribute.String("panic.goroutine_name", goroutineName),
	}

	if component != "" {
		attrs = append(attrs, attribute.String("panic.component", component))
	}

	span.AddEvent(PanicSpanEventName, trace.WithAttributes(attrs...))
	span.RecordError(fmt.Errorf("%w: %v", ErrPanic, panicValue))

	location := goroutineName
	if component != "" {
		location = component + "/" + goroutineName
	}

	span.SetStatus(codes.Error, "panic recovered in "+location)
}
