package opentelemetry

import (
	"context"

	commons "github.com/LerianStudio/lib-eventbus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ---- SpanProcessor that applies the AttrBag to every new span ----

// AttrBagSpanProcessor copies request-scoped attributes from context into every span at start.
type AttrBagSpanProcessor struct{}

func (AttrBagSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if kv := commons.AttributesFromContext(ctx); len(kv) > 0 {
		s.SetAttributes(kv...)
	}
}

func (AttrBagSpanProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (AttrBagSpanProcessor) Shutdown(context.Context) error { return nil }

func (AttrBagSpanProcessor) ForceFlush(context.Context) error { return nil }

// ---- SpanProcessor that applies the AttrBag through a Redactor ----

// RedactingAttrBagSpanProcessor copies request-scoped attributes from context
// into every span at start, redacting sensitive values on the way in. A nil
// Redactor degrades to plain AttrBag copying.
type RedactingAttrBagSpanProcessor struct {
	Redactor *Redactor
}

func (p RedactingAttrBagSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	kv := commons.AttributesFromContext(ctx)
	if len(kv) == 0 {
		return
	}

	s.SetAttributes(redactAttributesByKey(kv, p.Redactor)...)
}

func (p RedactingAttrBagSpanProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (p RedactingAttrBagSpanProcessor) Shutdown(context.Context) error { return nil }

func (p RedactingAttrBagSpanProcessor) ForceFlush(context.Context) error { return nil }
