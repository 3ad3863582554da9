// Package eventbus implements an integration event bus over RabbitMQ: a
// direct exchange keyed by event type name, a subscription registry mapping
// event names to local types and handler factories, JSON serialization of
// events by their runtime type, per-publish retry with exponential backoff
// on transient broker failures, and W3C trace-context propagation through
// message headers. Durable outbound delivery is provided by the outbox
// packages; OutboxService bridges the two.
package eventbus
