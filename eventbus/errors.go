package eventbus

import (
	"errors"
	"net"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Error taxonomy of the bus. Sentinels are matched with errors.Is; wrapped
// causes stay reachable through errors.As.
var (
	// ErrBrokerUnreachable marks transient connection/channel/socket failures
	// that the retry pipeline may retry.
	ErrBrokerUnreachable = errors.New("broker unreachable")
	// ErrNotConnected is returned when a publish is attempted with no open
	// broker connection. It is surfaced immediately, never retried.
	ErrNotConnected = errors.New("not connected to broker")
	// ErrMalformedPayload marks a JSON decode failure on consume.
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrUnknownEventType marks a routing key with no registered event type.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrHandlerFailure marks an error thrown by an event handler.
	ErrHandlerFailure = errors.New("event handler failed")
	// ErrConfigInvalid marks null/empty required configuration at construction.
	ErrConfigInvalid = errors.New("invalid event bus configuration")

	// ErrEventRequired is returned when a nil event reaches a bus operation.
	ErrEventRequired = errors.New("integration event is required")
	// ErrRegistryRequired is returned when a nil subscription registry reaches a constructor.
	ErrRegistryRequired = errors.New("subscription registry is required")
	// ErrRegistryFrozen is returned when a registration is attempted after startup.
	ErrRegistryFrozen = errors.New("subscription registry is frozen")
	// ErrEventTypeConflict is returned when two distinct event types share a short name.
	ErrEventTypeConflict = errors.New("event type name already registered to a different type")
	// ErrBusNotStarted is returned by Stop when the bus was never started.
	ErrBusNotStarted = errors.New("event bus is not started")
)

// transientAMQPCodes are broker reply codes treated as recoverable: the
// connection or channel died for an operational reason and a fresh attempt
// may succeed.
var transientAMQPCodes = map[int]bool{
	amqp.ConnectionForced: true,
	amqp.FrameError:       true,
	amqp.ChannelError:     true,
	amqp.ResourceError:    true,
	amqp.InternalError:    true,
}

// IsTransientBrokerError reports whether err is a transient broker or
// network failure that the retry pipeline should retry. ErrNotConnected is
// explicitly terminal: it means the caller published without a connection,
// and retrying cannot create one.
func IsTransientBrokerError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotConnected) {
		return false
	}

	if errors.Is(err, ErrBrokerUnreachable) || errors.Is(err, amqp.ErrClosed) {
		return true
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return transientAMQPCodes[amqpErr.Code]
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
