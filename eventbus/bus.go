package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-eventbus/constants"
	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	libLog "github.com/LerianStudio/lib-eventbus/log"
	libOpentelemetry "github.com/LerianStudio/lib-eventbus/opentelemetry"
	"github.com/LerianStudio/lib-eventbus/rabbitmq"
	"github.com/LerianStudio/lib-eventbus/runtime"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// faultInjectionMarker triggers a synthesized consume failure when it appears
// anywhere in a delivered body. Chaos-testing hook: the delivery is acked and
// a warning logged, but no handler runs.
const faultInjectionMarker = "throw-fake-exception"

// busChannel is the slice of *amqp.Channel the bus uses. Publish paths open
// one per call; the consumer owns one for its lifetime.
type busChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

var _ busChannel = (*amqp.Channel)(nil)

// EventBus publishes integration events to, and consumes them from, a single
// direct exchange, routing by event type name. One long-lived channel hosts
// the consumer; every publish opens and releases its own short-lived channel,
// so concurrent publishes never share channel state.
type EventBus struct {
	conn       *rabbitmq.RabbitMQConnection
	registry   *SubscriptionRegistry
	cfg        Config
	logger     libLog.Logger
	tracer     trace.Tracer
	propagator *TracePropagator
	retry      *RetryPipeline
	redactor   *libOpentelemetry.Redactor

	channelFn func(ctx context.Context) (busChannel, error)

	mu              sync.Mutex
	consumerChannel busChannel
	started         bool
	stop            chan struct{}
	done            chan struct{}
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithBusLogger sets the bus logger.
func WithBusLogger(logger libLog.Logger) BusOption {
	return func(bus *EventBus) {
		if !nilcheck.Interface(logger) {
			bus.logger = logger
		}
	}
}

// WithBusTracer sets the tracer used for publish and receive spans.
func WithBusTracer(tracer trace.Tracer) BusOption {
	return func(bus *EventBus) {
		if !nilcheck.Interface(tracer) {
			bus.tracer = tracer
		}
	}
}

// WithRetryPipeline replaces the per-publish retry pipeline.
func WithRetryPipeline(retry *RetryPipeline) BusOption {
	return func(bus *EventBus) {
		if retry != nil {
			bus.retry = retry
		}
	}
}

// WithRedactor replaces the redactor applied to message bodies before they
// are recorded on receive spans.
func WithRedactor(redactor *libOpentelemetry.Redactor) BusOption {
	return func(bus *EventBus) {
		if redactor != nil {
			bus.redactor = redactor
		}
	}
}

// withChannelFactory replaces the channel source; tests use it to run the
// full publish/consume paths against fakes.
func withChannelFactory(factory func(ctx context.Context) (busChannel, error)) BusOption {
	return func(bus *EventBus) {
		if factory != nil {
			bus.channelFn = factory
		}
	}
}

// NewEventBus creates a bus over conn, dispatching to the subscriptions in
// registry. Configuration errors surface synchronously here.
func NewEventBus(conn *rabbitmq.RabbitMQConnection, registry *SubscriptionRegistry, cfg Config, opts ...BusOption) (*EventBus, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := &EventBus{
		conn:       conn,
		registry:   registry,
		cfg:        cfg,
		logger:     libLog.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer("eventbus.noop"),
		propagator: NewTracePropagator(),
		redactor:   libOpentelemetry.NewDefaultRedactor(),
	}

	bus.channelFn = bus.liveChannel

	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}

	if bus.retry == nil {
		bus.retry = NewRetryPipeline(cfg.RetryCount, WithRetryLogger(bus.logger))
	}

	return bus, nil
}

// liveChannel opens a fresh channel on the live connection, failing fast
// with ErrNotConnected when no open connection exists.
func (bus *EventBus) liveChannel(context.Context) (busChannel, error) {
	conn := bus.conn
	if conn == nil || conn.Connection == nil || conn.Connection.IsClosed() {
		return nil, ErrNotConnected
	}

	channel, err := conn.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", ErrBrokerUnreachable, err)
	}

	return channel, nil
}

// Start freezes the subscription registry and launches the consumer setup on
// a background goroutine. It returns promptly; a broker that is down at
// start leaves the consumer unstarted without failing the host.
func (bus *EventBus) Start(ctx context.Context) error {
	if bus == nil {
		return ErrBusNotStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	bus.registry.Freeze()

	bus.mu.Lock()

	if bus.started {
		bus.mu.Unlock()

		return nil
	}

	bus.started = true
	bus.stop = make(chan struct{})
	bus.done = make(chan struct{})
	bus.mu.Unlock()

	runtime.SafeGoWithContextAndComponent(ctx, bus.logger, "eventbus", "consumer_setup", runtime.KeepRunning, bus.runConsumer)

	return nil
}

// Stop signals the consumer to finish, releases its channel, and waits for
// the drain window bounded by ctx. The broker connection stays open; it is
// owned by the host.
func (bus *EventBus) Stop(ctx context.Context) error {
	if bus == nil {
		return ErrBusNotStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	bus.mu.Lock()

	if !bus.started {
		bus.mu.Unlock()

		return ErrBusNotStarted
	}

	select {
	case <-bus.stop:
	default:
		close(bus.stop)
	}

	channel := bus.consumerChannel
	bus.consumerChannel = nil
	done := bus.done
	bus.mu.Unlock()

	if channel != nil {
		bus.releaseChannel(channel)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus stop: %w", ctx.Err())
	}
}

// runConsumer performs the startup sequence: channel, exchange, queue,
// consumer, bindings, then serves deliveries until stopped. Any failure is
// logged and leaves the consumer unstarted; publishing is unaffected.
func (bus *EventBus) runConsumer(ctx context.Context) {
	defer close(bus.done)

	channel, err := bus.channelFn(ctx)
	if err != nil {
		bus.logger.Log(ctx, libLog.LevelWarn, "event bus consumer not started", libLog.Err(err))

		return
	}

	bus.mu.Lock()
	bus.consumerChannel = channel
	bus.mu.Unlock()

	closeNotifications := channel.NotifyClose(make(chan *amqp.Error, 1))

	deliveries, err := bus.setupConsumer(ctx, channel)
	if err != nil {
		bus.logger.Log(ctx, libLog.LevelError, "event bus consumer setup failed", libLog.Err(err))
		bus.releaseConsumerChannel()

		return
	}

	bus.logger.Log(ctx, libLog.LevelInfo, "event bus consumer started",
		libLog.String("queue", bus.cfg.SubscriptionClientName))

	for {
		select {
		case <-bus.stop:
			return
		case <-ctx.Done():
			return
		case closeErr := <-closeNotifications:
			if closeErr != nil {
				bus.logger.Log(ctx, libLog.LevelError, "event bus consumer channel closed", libLog.Err(closeErr))
			}

			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}

			bus.handleDelivery(ctx, delivery)
		}
	}
}

func (bus *EventBus) setupConsumer(ctx context.Context, channel busChannel) (<-chan amqp.Delivery, error) {
	if err := channel.ExchangeDeclare(ExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(bus.cfg.SubscriptionClientName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", bus.cfg.SubscriptionClientName, err)
	}

	deliveries, err := channel.ConsumeWithContext(ctx, queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consumer on %s: %w", queue.Name, err)
	}

	for _, eventTypeName := range bus.registry.EventTypeNames() {
		if err := channel.QueueBind(queue.Name, eventTypeName, ExchangeName, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", queue.Name, eventTypeName, err)
		}
	}

	return deliveries, nil
}

func (bus *EventBus) releaseConsumerChannel() {
	bus.mu.Lock()
	channel := bus.consumerChannel
	bus.consumerChannel = nil
	bus.mu.Unlock()

	if channel != nil {
		bus.releaseChannel(channel)
	}
}

// handleDelivery processes one delivery end to end. Every delivery is acked
// exactly once regardless of outcome: durability lives in the outbox, not in
// broker redelivery.
func (bus *EventBus) handleDelivery(parentCtx context.Context, delivery amqp.Delivery) {
	defer runtime.RecoverAndLogWithContext(parentCtx, bus.logger, "eventbus", "handle_delivery")

	routingKey := delivery.RoutingKey

	ctx := bus.propagator.Extract(parentCtx, map[string]any(delivery.Headers), DefaultHeaderGetter)

	ctx, span := bus.tracer.Start(ctx, routingKey+" receive", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body := string(delivery.Body)

	span.SetAttributes(
		attribute.String(constant.AttrMessagingSystem, constant.MessagingSystemRabbitMQ),
		attribute.String(constant.AttrMessagingDestinationKind, constant.MessagingDestinationKindQueue),
		attribute.String(constant.AttrMessagingOperation, constant.MessagingOperationReceive),
		attribute.String(constant.AttrMessagingDestinationName, routingKey),
		attribute.String(constant.AttrMessagingRabbitMQRoutingKey, routingKey),
		attribute.String(constant.AttrMessagingMessageBody, libOpentelemetry.RedactJSONText(body, bus.redactor)),
	)

	defer bus.ackDelivery(ctx, span, delivery)

	if strings.Contains(strings.ToLower(body), faultInjectionMarker) {
		err := fmt.Errorf("fake exception requested for %s", routingKey)

		libOpentelemetry.HandleSpanError(span, "fault injection triggered", err)
		bus.logger.Log(ctx, libLog.LevelWarn, "fault injection triggered, skipping handlers",
			libLog.String("routing_key", routingKey))

		return
	}

	eventType, ok := bus.registry.EventType(routingKey)
	if !ok {
		bus.logger.Log(ctx, libLog.LevelWarn, "no subscription registered for event type",
			libLog.String("routing_key", routingKey))

		return
	}

	event, err := Deserialize(delivery.Body, eventType)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to decode event payload", err)
		bus.logger.Log(ctx, libLog.LevelWarn, "failed to decode event payload",
			libLog.String("routing_key", routingKey), libLog.Err(err))

		return
	}

	for _, factory := range bus.registry.HandlerFactories(routingKey) {
		handler := factory()
		if handler == nil {
			continue
		}

		if handlerErr := handler.Handle(ctx, event); handlerErr != nil {
			wrapped := fmt.Errorf("%w: %w", ErrHandlerFailure, handlerErr)

			libOpentelemetry.HandleSpanError(span, "event handler failed", wrapped)
			bus.logger.Log(ctx, libLog.LevelWarn, "event handler failed, aborting remaining handlers",
				libLog.String("routing_key", routingKey), libLog.Err(handlerErr))

			// First handler error aborts the rest of the chain for this
			// delivery; the message is still acked.
			return
		}
	}
}

func (bus *EventBus) ackDelivery(ctx context.Context, span trace.Span, delivery amqp.Delivery) {
	if delivery.Acknowledger == nil {
		return
	}

	if err := delivery.Ack(false); err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to ack delivery", err)
		bus.logger.Log(ctx, libLog.LevelError, "failed to ack delivery",
			libLog.String("routing_key", delivery.RoutingKey), libLog.Err(err))
	}
}

// PublishAsync serializes event by its runtime type and publishes it to the
// exchange with the event's type name as routing key, retrying transient
// broker failures per the retry pipeline. Safe for concurrent use; each call
// owns its channel.
func (bus *EventBus) PublishAsync(ctx context.Context, event Event) error {
	if bus == nil {
		return ErrBusNotStarted
	}

	if event == nil {
		return ErrEventRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	routingKey := EventTypeName(event)

	channel, err := bus.channelFn(ctx)
	if err != nil {
		return err
	}

	defer bus.releaseChannel(channel)

	bus.watchReturns(ctx, channel)

	if err := channel.ExchangeDeclare(ExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	body, err := Serialize(event, bus.registry.JSONOptions())
	if err != nil {
		return err
	}

	messageID := event.EventID().String()

	return bus.retry.Execute(ctx, func() error {
		return bus.publishOnce(ctx, channel, routingKey, messageID, body)
	})
}

func (bus *EventBus) publishOnce(parentCtx context.Context, channel busChannel, routingKey, messageID string, body []byte) error {
	ctx, span := bus.tracer.Start(parentCtx, routingKey+" publish", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrMessagingSystem, constant.MessagingSystemRabbitMQ),
		attribute.String(constant.AttrMessagingDestinationKind, constant.MessagingDestinationKindQueue),
		attribute.String(constant.AttrMessagingOperation, constant.MessagingOperationPublish),
		attribute.String(constant.AttrMessagingDestinationName, routingKey),
		attribute.String(constant.AttrMessagingRabbitMQRoutingKey, routingKey),
	)

	headers := bus.propagator.Inject(ctx, nil, DefaultHeaderSetter)

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table(headers),
		Body:         body,
	}

	if err := channel.PublishWithContext(ctx, ExchangeName, routingKey, true, false, publishing); err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to publish event", err)

		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	return nil
}

// watchReturns logs messages the broker returns on mandatory publishes with
// no matching binding. Without this, such events would drop silently.
func (bus *EventBus) watchReturns(ctx context.Context, channel busChannel) {
	returns := channel.NotifyReturn(make(chan amqp.Return, 1))

	runtime.SafeGo(bus.logger, "eventbus.mandatory_return", runtime.KeepRunning, func() {
		for returned := range returns {
			bus.logger.Log(ctx, libLog.LevelWarn, "broker returned unroutable event",
				libLog.String("routing_key", returned.RoutingKey),
				libLog.Int("reply_code", int(returned.ReplyCode)),
				libLog.String("reply_text", returned.ReplyText))
		}
	})
}

func (bus *EventBus) releaseChannel(channel busChannel) {
	if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		bus.logger.Log(context.Background(), libLog.LevelWarn, "failed to close channel", libLog.Err(err))
	}
}
