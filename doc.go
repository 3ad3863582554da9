// Package commons provides the shared infrastructure the event bus packages
// are built on: context-carried logging/tracing/metrics helpers, validation
// utilities, error adapters, and the Launcher application lifecycle.
//
// Typical usage at request ingress:
//
//	ctx = commons.ContextWithLogger(ctx, logger)
//	ctx = commons.ContextWithTracer(ctx, tracer)
//	ctx = commons.ContextWithHeaderID(ctx, requestID)
//
// This package is intentionally dependency-light; specialized integrations
// live in subpackages such as eventbus, outbox, rabbitmq, postgres, and
// opentelemetry.
package commons
