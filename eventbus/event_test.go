//go:build unit

package eventbus

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type OrderCreatedEvent struct {
	IntegrationEvent

	OrderID int `json:"orderId"`
}

type OrderShippedEvent struct {
	IntegrationEvent

	Carrier string `json:"carrier"`
}

func TestNewIntegrationEvent(t *testing.T) {
	t.Parallel()

	event := NewIntegrationEvent()

	require.NotEqual(t, uuid.Nil, event.ID)
	require.False(t, event.CreationDate.IsZero())
	require.Equal(t, event.CreationDate.UTC(), event.CreationDate)
	require.Equal(t, event.ID, event.EventID())
	require.Equal(t, event.CreationDate, event.EventCreationDate())
}

func TestEventTypeName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "OrderCreatedEvent", EventTypeName(OrderCreatedEvent{}))
	require.Equal(t, "OrderCreatedEvent", EventTypeName(&OrderCreatedEvent{}))
	require.Equal(t, "", EventTypeName(nil))
}

func TestShortTypeName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "OrderCreatedEvent", shortTypeName("OrderCreatedEvent"))
	require.Equal(t, "OrderCreatedEvent", shortTypeName("billing.OrderCreatedEvent"))
	require.Equal(t, "OrderCreatedEvent", shortTypeName("github.com/acme/billing.OrderCreatedEvent"))
}

func TestEventSerializationRoundTrip(t *testing.T) {
	t.Parallel()

	original := OrderCreatedEvent{IntegrationEvent: NewIntegrationEvent(), OrderID: 42}

	data, err := Serialize(original, DefaultJSONOptions())
	require.NoError(t, err)

	decoded, err := Deserialize(data, reflect.TypeOf(OrderCreatedEvent{}))
	require.NoError(t, err)

	roundTripped, ok := decoded.(*OrderCreatedEvent)
	require.True(t, ok)
	require.Equal(t, original.ID, roundTripped.ID)
	require.True(t, original.CreationDate.Equal(roundTripped.CreationDate))
	require.Equal(t, original.OrderID, roundTripped.OrderID)
}
