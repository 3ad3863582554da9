//go:build unit

package eventbus

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func nopFactory() Handler {
	return HandlerFunc(func(context.Context, Event) error { return nil })
}

func TestRegisterSubscriptionRecordsTypes(t *testing.T) {
	t.Parallel()

	registry := NewSubscriptionRegistry()

	require.NoError(t, registry.RegisterSubscription(OrderCreatedEvent{}, nopFactory))
	require.NoError(t, registry.RegisterSubscription(OrderShippedEvent{}, nopFactory))

	created, ok := registry.EventType("OrderCreatedEvent")
	require.True(t, ok)
	require.Equal(t, reflect.TypeOf(OrderCreatedEvent{}), created)

	shipped, ok := registry.EventType("OrderShippedEvent")
	require.True(t, ok)
	require.Equal(t, reflect.TypeOf(OrderShippedEvent{}), shipped)

	require.Equal(t, []string{"OrderCreatedEvent", "OrderShippedEvent"}, registry.EventTypeNames())
}

func TestRegisterSubscriptionDuplicateFactoryIsIdempotent(t *testing.T) {
	t.Parallel()

	registry := NewSubscriptionRegistry()

	require.NoError(t, registry.RegisterSubscription(OrderCreatedEvent{}, nopFactory))
	require.NoError(t, registry.RegisterSubscription(OrderCreatedEvent{}, nopFactory))

	require.Len(t, registry.HandlerFactories("OrderCreatedEvent"), 1)

	other := func() Handler { return HandlerFunc(func(context.Context, Event) error { return nil }) }

	require.NoError(t, registry.RegisterSubscription(OrderCreatedEvent{}, other))
	require.Len(t, registry.HandlerFactories("OrderCreatedEvent"), 2)
}

func TestRegisterSubscriptionPointerPrototypeIsNotAConflict(t *testing.T) {
	t.Parallel()

	registry := NewSubscriptionRegistry()

	require.NoError(t, registry.RegisterSubscription(OrderCreatedEvent{}, nopFactory))

	// A pointer prototype of the same type is not a conflict.
	require.NoError(t, registry.RegisterSubscription(&OrderCreatedEvent{}, nopFactory))
}

func TestRegisterSubscriptionValidation(t *testing.T) {
	t.Parallel()

	registry := NewSubscriptionRegistry()

	require.ErrorIs(t, registry.RegisterSubscription(nil, nopFactory), ErrEventRequired)
	require.ErrorIs(t, registry.RegisterSubscription(OrderCreatedEvent{}, nil), ErrConfigInvalid)

	var nilRegistry *SubscriptionRegistry

	require.ErrorIs(t, nilRegistry.RegisterSubscription(OrderCreatedEvent{}, nopFactory), ErrRegistryRequired)
}

func TestRegistryFreeze(t *testing.T) {
	t.Parallel()

	registry := NewSubscriptionRegistry()
	require.NoError(t, registry.RegisterSubscription(OrderCreatedEvent{}, nopFactory))

	registry.Freeze()

	require.ErrorIs(t, registry.RegisterSubscription(OrderShippedEvent{}, nopFactory), ErrRegistryFrozen)
	require.ErrorIs(t, registry.ConfigureJSONOptions(func(*JSONOptions) {}), ErrRegistryFrozen)

	// Reads keep working after freeze.
	_, ok := registry.EventType("OrderCreatedEvent")
	require.True(t, ok)
}

func TestConfigureJSONOptions(t *testing.T) {
	t.Parallel()

	registry := NewSubscriptionRegistry()

	require.Equal(t, DefaultJSONOptions(), registry.JSONOptions())

	require.NoError(t, registry.ConfigureJSONOptions(func(opts *JSONOptions) {
		opts.Indent = "\t"
		opts.EscapeHTML = true
	}))

	opts := registry.JSONOptions()
	require.Equal(t, "\t", opts.Indent)
	require.True(t, opts.EscapeHTML)
}
