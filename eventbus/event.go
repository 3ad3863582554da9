package eventbus

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every integration event. Concrete events embed
// IntegrationEvent and add their own fields.
type Event interface {
	EventID() uuid.UUID
	EventCreationDate() time.Time
}

// IntegrationEvent is the base shape shared by all integration events: a
// globally unique identity and a UTC creation timestamp, both assigned at
// construction and stable across serialization round-trips.
type IntegrationEvent struct {
	ID           uuid.UUID `json:"id"`
	CreationDate time.Time `json:"creationDate"`
}

// NewIntegrationEvent creates the base of a new event with a fresh id and
// the current UTC time.
func NewIntegrationEvent() IntegrationEvent {
	return IntegrationEvent{
		ID:           uuid.New(),
		CreationDate: time.Now().UTC(),
	}
}

// EventID returns the event's unique identifier.
func (event IntegrationEvent) EventID() uuid.UUID { return event.ID }

// EventCreationDate returns the event's UTC creation timestamp.
func (event IntegrationEvent) EventCreationDate() time.Time { return event.CreationDate }

// EventTypeName returns the logical routing name of an event: the short
// name of its runtime type. It is both the broker routing key and the key
// into the subscription registry.
func EventTypeName(event Event) string {
	if event == nil {
		return ""
	}

	typ := reflect.TypeOf(event)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	return typ.Name()
}

// shortTypeName reduces a possibly qualified type name ("pkg.OrderCreated",
// "some/pkg.OrderCreated", "Namespace.OrderCreated") to its short form. The
// outbox stores the full name; the registry is keyed by the short form.
func shortTypeName(fullName string) string {
	name := fullName

	for index := len(name) - 1; index >= 0; index-- {
		if name[index] == '.' || name[index] == '/' {
			return name[index+1:]
		}
	}

	return name
}
