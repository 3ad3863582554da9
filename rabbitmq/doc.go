// Package rabbitmq manages the shared AMQP connection: singleton connection
// and channel lifecycle with injectable dialers, reconnect rate limiting,
// and a management-API health check with credential-safe error reporting.
// The event bus layers its exchange/queue topology and publish/consume
// paths on top of this package.
package rabbitmq
