package eventbus

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// HeaderSetter writes one key/value pair into a header map, creating the map
// on first use, and returns the map to write subsequent pairs into.
type HeaderSetter func(headers map[string]any, key, value string) map[string]any

// HeaderGetter reads the values stored under key, decoding non-string header
// values (AMQP carries them as byte arrays on the wire) to UTF-8 strings.
type HeaderGetter func(headers map[string]any, key string) []string

// TracePropagator injects and extracts the W3C trace-context plus baggage
// representation into and out of message header maps. Inject on one node
// followed by Extract on another yields a causally equivalent context: same
// trace id, the injecting span as parent, and the same baggage.
type TracePropagator struct {
	propagator propagation.TextMapPropagator
}

// NewTracePropagator creates a propagator using the default W3C trace
// context and baggage formats.
func NewTracePropagator() *TracePropagator {
	return &TracePropagator{
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// DefaultHeaderSetter stores string values, creating the map on first use.
func DefaultHeaderSetter(headers map[string]any, key, value string) map[string]any {
	if headers == nil {
		headers = make(map[string]any)
	}

	headers[key] = value

	return headers
}

// DefaultHeaderGetter reads one key, decoding []byte values as UTF-8.
func DefaultHeaderGetter(headers map[string]any, key string) []string {
	raw, ok := headers[key]
	if !ok {
		return nil
	}

	switch value := raw.(type) {
	case string:
		return []string{value}
	case []byte:
		return []string{string(value)}
	default:
		return nil
	}
}

// Inject writes ctx's span context and baggage into headers via set,
// returning the (possibly newly created) header map.
func (tp *TracePropagator) Inject(ctx context.Context, headers map[string]any, set HeaderSetter) map[string]any {
	if set == nil {
		set = DefaultHeaderSetter
	}

	carrier := &headerCarrier{headers: headers, set: set, get: DefaultHeaderGetter}
	tp.propagator.Inject(ctx, carrier)

	return carrier.headers
}

// Extract reads the trace-context representation out of headers via get and
// returns a context carrying the remote span context and baggage.
func (tp *TracePropagator) Extract(ctx context.Context, headers map[string]any, get HeaderGetter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if get == nil {
		get = DefaultHeaderGetter
	}

	carrier := &headerCarrier{headers: headers, set: DefaultHeaderSetter, get: get}

	return tp.propagator.Extract(ctx, carrier)
}

// headerCarrier adapts a message header map plus caller-supplied accessors
// to the OpenTelemetry TextMapCarrier contract.
type headerCarrier struct {
	headers map[string]any
	set     HeaderSetter
	get     HeaderGetter
}

func (carrier *headerCarrier) Get(key string) string {
	values := carrier.get(carrier.headers, key)
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

func (carrier *headerCarrier) Set(key, value string) {
	carrier.headers = carrier.set(carrier.headers, key, value)
}

func (carrier *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(carrier.headers))
	for key := range carrier.headers {
		keys = append(keys, key)
	}

	return keys
}
