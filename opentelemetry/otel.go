package opentelemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	constant "github.com/LerianStudio/lib-eventbus/constants"
	"github.com/LerianStudio/lib-eventbus/log"
	"github.com/LerianStudio/lib-eventbus/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

var (
	// ErrNilTelemetryConfig indicates that nil config was provided to InitializeTelemetryWithError.
	ErrNilTelemetryConfig = errors.New("telemetry config cannot be nil")
	// ErrNilTelemetryLogger indicates that config.Logger is nil.
	ErrNilTelemetryLogger = errors.New("telemetry config logger cannot be nil")
	// ErrEmptyEndpoint indicates telemetry was enabled without a collector exporter endpoint.
	ErrEmptyEndpoint = errors.New("telemetry collector exporter endpoint is required")
	// ErrNilTelemetry indicates a method call on a nil *Telemetry.
	ErrNilTelemetry = errors.New("telemetry is nil")
	// ErrNilShutdown indicates the telemetry instance carries no shutdown function.
	ErrNilShutdown = errors.New("telemetry shutdown function is nil")
)

// Span attribute flattening bounds. They cap cardinality and payload size of
// attributes derived from arbitrary values.
const (
	maxAttributeDepth            = 8
	maxAttributeCount            = 128
	maxSpanAttributeStringLength = 4096
)

// TelemetryConfig configures the providers and exporters.
//
// Logger accepts either the structured log.Logger or the chainable
// log.ChainLogger surface; both logging generations remain in use across
// services consuming this module.
type TelemetryConfig struct {
	LibraryName               string
	ServiceName               string
	ServiceVersion            string
	DeploymentEnv             string
	CollectorExporterEndpoint string
	EnableTelemetry           bool
	InsecureExporter          bool
	Logger                    any
}

// Telemetry bundles the configured providers plus the shared redactor and
// propagator. Globals are only touched by ApplyGlobals.
type Telemetry struct {
	TelemetryConfig
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	MetricsFactory *metrics.MetricsFactory
	Redactor       *Redactor
	Propagator     propagation.TextMapPropagator

	shutdown    func()
	shutdownCtx func(ctx context.Context) error
}

// telemetryChainLogger is the print-style logging slice otel bootstrapping uses.
type telemetryChainLogger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
	Warn(args ...any)
}

// chainLoggerAdapter presents a structured log.Logger through the chainable
// surface used during telemetry bootstrap.
type chainLoggerAdapter struct {
	logger log.Logger
}

func (a chainLoggerAdapter) Infof(format string, args ...any) {
	a.logger.Log(context.Background(), log.LevelInfo, fmt.Sprintf(format, args...))
}

func (a chainLoggerAdapter) Errorf(format string, args ...any) {
	a.logger.Log(context.Background(), log.LevelError, fmt.Sprintf(format, args...))
}

func (a chainLoggerAdapter) Warn(args ...any) {
	a.logger.Log(context.Background(), log.LevelWarn, fmt.Sprint(args...))
}

// resolveTelemetryLoggers normalizes raw into both logging surfaces: a
// chainable logger for bootstrap messages and a structured logger for the
// metrics factory.
func resolveTelemetryLoggers(raw any) (telemetryChainLogger, log.Logger, error) {
	switch l := raw.(type) {
	case nil:
		return nil, nil, ErrNilTelemetryLogger
	case log.Logger:
		if isNilValue(l) {
			return nil, nil, ErrNilTelemetryLogger
		}

		return chainLoggerAdapter{logger: l}, l, nil
	case telemetryChainLogger:
		if isNilValue(l) {
			return nil, nil, ErrNilTelemetryLogger
		}

		return l, log.NewNop(), nil
	default:
		return nil, nil, ErrNilTelemetryLogger
	}
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}

	value := reflect.ValueOf(v)

	switch value.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return value.IsNil()
	default:
		return false
	}
}

// newResource creates a new resource with custom attributes.
func (tl *TelemetryConfig) newResource() *sdkresource.Resource {
	// Create a resource with only our custom attributes to avoid schema URL conflicts
	r := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(tl.ServiceName),
		semconv.ServiceVersion(tl.ServiceVersion),
		semconv.DeploymentEnvironmentName(tl.DeploymentEnv),
		semconv.TelemetrySDKName(constant.TelemetrySDKName),
		semconv.TelemetrySDKLanguageGo,
	)

	return r
}

func (tl *TelemetryConfig) newLoggerExporter(ctx context.Context) (*otlploggrpc.Exporter, error) {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(tl.CollectorExporterEndpoint)}
	if tl.InsecureExporter {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	return otlploggrpc.New(ctx, opts...)
}

func (tl *TelemetryConfig) newMetricExporter(ctx context.Context) (*otlpmetricgrpc.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(tl.CollectorExporterEndpoint)}
	if tl.InsecureExporter {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	return otlpmetricgrpc.New(ctx, opts...)
}

func (tl *TelemetryConfig) newTracerExporter(ctx context.Context) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tl.CollectorExporterEndpoint)}
	if tl.InsecureExporter {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	return otlptracegrpc.New(ctx, opts...)
}

func (tl *TelemetryConfig) newLoggerProvider(rsc *sdkresource.Resource, exp *otlploggrpc.Exporter) *sdklog.LoggerProvider {
	bp := sdklog.NewBatchProcessor(exp)

	return sdklog.NewLoggerProvider(sdklog.WithResource(rsc), sdklog.WithProcessor(bp))
}

func (tl *TelemetryConfig) newMeterProvider(res *sdkresource.Resource, exp *otlpmetricgrpc.Exporter) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
}

func (tl *TelemetryConfig) newTracerProvider(rsc *sdkresource.Resource, exp *otlptrace.Exporter, redactor *Redactor) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsc),
		sdktrace.WithSpanProcessor(RedactingAttrBagSpanProcessor{Redactor: redactor}),
	)
}

// defaultPropagator is the W3C trace-context plus baggage composite.
func defaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// NewTelemetry builds a Telemetry instance without touching any globals.
// With telemetry disabled it returns fully functional in-process providers
// that never export. Call ApplyGlobals to install the providers globally.
func NewTelemetry(cfg TelemetryConfig) (*Telemetry, error) {
	chainLogger, structured, err := resolveTelemetryLoggers(cfg.Logger)
	if err != nil {
		return nil, err
	}

	if cfg.EnableTelemetry && strings.TrimSpace(cfg.CollectorExporterEndpoint) == "" {
		return nil, ErrEmptyEndpoint
	}

	redactor := NewDefaultRedactor()

	if !cfg.EnableTelemetry {
		mp := sdkmetric.NewMeterProvider()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(RedactingAttrBagSpanProcessor{Redactor: redactor}))
		lp := sdklog.NewLoggerProvider()

		metricsFactory, factoryErr := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), structured)
		if factoryErr != nil {
			return nil, fmt.Errorf("creating metrics factory: %w", factoryErr)
		}

		shutdown, shutdownCtx := buildShutdownHandlers(chainLogger, tp, mp, lp)

		return &Telemetry{
			TelemetryConfig: cfg,
			TracerProvider:  tp,
			MeterProvider:   mp,
			LoggerProvider:  lp,
			MetricsFactory:  metricsFactory,
			Redactor:        redactor,
			Propagator:      defaultPropagator(),
			shutdown:        shutdown,
			shutdownCtx:     shutdownCtx,
		}, nil
	}

	ctx := context.Background()

	chainLogger.Infof("Initializing telemetry...")

	rsc := cfg.newResource()

	tExp, err := cfg.newTracerExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
	}

	mExp, err := cfg.newMetricExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
	}

	lExp, err := cfg.newLoggerExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize logger exporter: %w", err)
	}

	mp := cfg.newMeterProvider(rsc, mExp)
	tp := cfg.newTracerProvider(rsc, tExp, redactor)
	lp := cfg.newLoggerProvider(rsc, lExp)

	metricsFactory, err := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), structured)
	if err != nil {
		return nil, fmt.Errorf("creating metrics factory: %w", err)
	}

	shutdown, shutdownCtx := buildShutdownHandlers(chainLogger, mp, tp, lp, tExp, mExp, lExp)

	chainLogger.Infof("Telemetry initialized ✅ ")

	return &Telemetry{
		TelemetryConfig: cfg,
		TracerProvider:  tp,
		MeterProvider:   mp,
		LoggerProvider:  lp,
		MetricsFactory:  metricsFactory,
		Redactor:        NewDefaultRedactor(),
		Propagator:      defaultPropagator(),
		shutdown:        shutdown,
		shutdownCtx:     shutdownCtx,
	}, nil
}

// ApplyGlobals installs the providers and propagator as process globals.
func (tl *Telemetry) ApplyGlobals() {
	if tl == nil {
		return
	}

	if tl.TracerProvider != nil {
		otel.SetTracerProvider(tl.TracerProvider)
	}

	if tl.MeterProvider != nil {
		otel.SetMeterProvider(tl.MeterProvider)
	}

	if tl.LoggerProvider != nil {
		global.SetLoggerProvider(tl.LoggerProvider)
	}

	if tl.Propagator != nil {
		otel.SetTextMapPropagator(tl.Propagator)
	}
}

// Tracer returns a tracer from this instance's provider.
//
//nolint:ireturn
func (tl *Telemetry) Tracer(name string) (trace.Tracer, error) {
	if tl == nil || tl.TracerProvider == nil {
		return nil, ErrNilTelemetry
	}

	return tl.TracerProvider.Tracer(name), nil
}

// Meter returns a meter from this instance's provider.
//
//nolint:ireturn
func (tl *Telemetry) Meter(name string) (metric.Meter, error) {
	if tl == nil || tl.MeterProvider == nil {
		return nil, ErrNilTelemetry
	}

	return tl.MeterProvider.Meter(name), nil
}

// ShutdownTelemetry shuts down the telemetry providers and exporters,
// logging failures instead of returning them.
func (tl *Telemetry) ShutdownTelemetry() {
	if tl == nil || tl.shutdown == nil {
		return
	}

	tl.shutdown()
}

// ShutdownTelemetryWithContext shuts down the providers and exporters,
// honoring ctx and returning the aggregated error.
func (tl *Telemetry) ShutdownTelemetryWithContext(ctx context.Context) error {
	if tl == nil {
		return ErrNilTelemetry
	}

	if tl.shutdownCtx != nil {
		return tl.shutdownCtx(ctx)
	}

	if tl.shutdown != nil {
		tl.shutdown()

		return nil
	}

	return ErrNilShutdown
}

// EndTracingSpans ends the span carried by ctx.
func (tl *Telemetry) EndTracingSpans(ctx context.Context) {
	if tl == nil {
		return
	}

	trace.SpanFromContext(ctx).End()
}

// shutdownable is anything the telemetry owns that must be shut down.
type shutdownable interface {
	Shutdown(context.Context) error
}

// isNilShutdownable reports whether component is nil, including a typed-nil
// pointer boxed in the interface.
func isNilShutdownable(component shutdownable) bool {
	if component == nil {
		return true
	}

	value := reflect.ValueOf(component)

	switch value.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return value.IsNil()
	default:
		return false
	}
}

// buildShutdownHandlers returns a fire-and-forget shutdown plus a
// context-aware variant that aggregates every component's error. Nil
// components are skipped.
func buildShutdownHandlers(logger any, components ...shutdownable) (func(), func(context.Context) error) {
	chainLogger, _, loggerErr := resolveTelemetryLoggers(logger)

	shutdownCtx := func(ctx context.Context) error {
		var errs []error

		for _, component := range components {
			if isNilShutdownable(component) {
				continue
			}

			if err := component.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	}

	shutdown := func() {
		if err := shutdownCtx(context.Background()); err != nil && loggerErr == nil {
			chainLogger.Errorf("telemetry shutdown: %v", err)
		}
	}

	return shutdown, shutdownCtx
}

// InitializeTelemetryWithError initializes the telemetry providers and, when
// telemetry is enabled, sets them globally. Returns an error instead of
// exiting on failure.
func InitializeTelemetryWithError(cfg *TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		return nil, ErrNilTelemetryConfig
	}

	tl, err := NewTelemetry(*cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EnableTelemetry {
		tl.ApplyGlobals()
	}

	return tl, nil
}

// Deprecated: Use InitializeTelemetryWithError for proper error handling.
// InitializeTelemetry initializes the telemetry providers and sets them globally.
func InitializeTelemetry(cfg *TelemetryConfig) *Telemetry {
	telemetry, err := InitializeTelemetryWithError(cfg)
	if err != nil {
		stdlog.Fatalf("%v", err)
	}

	return telemetry
}

// SetSpanAttributesFromStruct converts a struct to a JSON string and sets it as an attribute on the span.
func SetSpanAttributesFromStruct(span trace.Span, key string, valueStruct any) error {
	if span == nil {
		return nil
	}

	jsonByte, err := json.Marshal(valueStruct)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.KeyValue{
		Key:   attribute.Key(sanitizeUTF8String(key)),
		Value: attribute.StringValue(sanitizeUTF8String(string(jsonByte))),
	})

	return nil
}

// HandleSpanBusinessErrorEvent adds a business error event to the span
// without marking the span itself as failed.
func HandleSpanBusinessErrorEvent(span trace.Span, eventName string, err error) {
	if span != nil && err != nil {
		span.AddEvent(eventName, trace.WithAttributes(attribute.String("error", err.Error())))
	}
}

// HandleSpanEvent adds an event to the span.
func HandleSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		span.AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}

// HandleSpanError sets the status of the span to error and records the error.
func HandleSpanError(span trace.Span, message string, err error) {
	if span != nil && err != nil {
		span.SetStatus(codes.Error, message+": "+err.Error())
		span.RecordError(err)
	}
}

// InjectTraceContext injects the ambient trace context into carrier using
// the global propagator. A nil carrier is a no-op.
func InjectTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	if carrier == nil {
		return
	}

	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTraceContext extracts a trace context from carrier using the global
// propagator. A nil carrier returns ctx unchanged.
func ExtractTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if carrier == nil {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectHTTPContext injects trace propagation headers into outgoing HTTP
// headers. http.Header satisfies the map type directly.
func InjectHTTPContext(ctx context.Context, headers map[string][]string) {
	if headers == nil {
		return
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// InjectGRPCContext injects trace propagation headers into md, returning the
// resulting metadata with W3C keys normalized to gRPC's lowercase form. A
// nil md starts a fresh metadata map.
func InjectGRPCContext(ctx context.Context, md metadata.MD) metadata.MD {
	out := metadata.MD{}
	maps.Copy(out, md)

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out))

	for _, key := range []string{"Traceparent", "Tracestate"} {
		if values, exists := out[key]; exists && len(values) > 0 {
			out[strings.ToLower(key)] = values
			delete(out, key)
		}
	}

	return out
}

// ExtractGRPCContext extracts trace context from gRPC metadata. When md is
// nil, the incoming metadata attached to ctx is used. Without metadata the
// context is returned unchanged.
func ExtractGRPCContext(ctx context.Context, md metadata.MD) context.Context {
	if md == nil {
		incoming, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return ctx
		}

		md = incoming
	}

	if len(md) == 0 {
		return ctx
	}

	mdCopy := metadata.MD{}
	maps.Copy(mdCopy, md)

	// gRPC metadata keys are lowercase; HeaderCarrier reads canonical MIME
	// form, so re-key the W3C headers before extraction.
	normalizations := map[string]string{
		constant.MetadataTraceparent: "Traceparent",
		constant.MetadataTracestate:  "Tracestate",
	}

	for lower, canonical := range normalizations {
		if values, exists := mdCopy[lower]; exists && len(values) > 0 {
			mdCopy[canonical] = values
			delete(mdCopy, lower)
		}
	}

	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(mdCopy))
}

// InjectQueueTraceContext injects OpenTelemetry trace context into RabbitMQ headers
// for distributed tracing across queue messages. Returns a map of headers to be
// added to the RabbitMQ message headers.
func InjectQueueTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.HeaderCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make(map[string]string)

	for k, v := range carrier {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return headers
}

// ExtractQueueTraceContext extracts OpenTelemetry trace context from RabbitMQ headers
// and returns a new context with the extracted trace information. This enables
// distributed tracing continuity across queue message boundaries.
func ExtractQueueTraceContext(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	carrier := propagation.HeaderCarrier{}
	for k, v := range headers {
		carrier.Set(k, v)
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// GetTraceIDFromContext extracts the trace ID from the current span context.
// Returns empty string if no active span or trace ID is found.
func GetTraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)

	spanContext := span.SpanContext()
	if !spanContext.IsValid() || !spanContext.HasTraceID() {
		return ""
	}

	return spanContext.TraceID().String()
}

// GetTraceStateFromContext extracts the W3C tracestate from the current span
// context. Returns empty string when there is no active span.
func GetTraceStateFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)

	spanContext := span.SpanContext()
	if !spanContext.IsValid() {
		return ""
	}

	return spanContext.TraceState().String()
}

// PrepareQueueHeaders prepares RabbitMQ headers with trace context injection
// following W3C trace context standards. Returns a map suitable for amqp.Table.
func PrepareQueueHeaders(ctx context.Context, baseHeaders map[string]any) map[string]any {
	headers := make(map[string]any)

	maps.Copy(headers, baseHeaders)

	traceHeaders := InjectQueueTraceContext(ctx)
	for k, v := range traceHeaders {
		headers[k] = v
	}

	return headers
}

// InjectTraceHeadersIntoQueue adds OpenTelemetry trace headers to existing RabbitMQ headers
// following W3C trace context standards. Modifies the headers map in place,
// allocating it when *headers is nil.
func InjectTraceHeadersIntoQueue(ctx context.Context, headers *map[string]any) {
	if headers == nil {
		return
	}

	if *headers == nil {
		*headers = make(map[string]any)
	}

	traceHeaders := InjectQueueTraceContext(ctx)
	for k, v := range traceHeaders {
		(*headers)[k] = v
	}
}

// ExtractTraceContextFromQueueHeaders extracts OpenTelemetry trace context from RabbitMQ amqp.Table headers
// and returns a new context with the extracted trace information. Handles type conversion automatically.
func ExtractTraceContextFromQueueHeaders(baseCtx context.Context, amqpHeaders map[string]any) context.Context {
	if len(amqpHeaders) == 0 {
		return baseCtx
	}

	traceHeaders := make(map[string]string)

	for k, v := range amqpHeaders {
		if str, ok := v.(string); ok {
			traceHeaders[k] = str
		}
	}

	if len(traceHeaders) == 0 {
		return baseCtx
	}

	return ExtractQueueTraceContext(baseCtx, traceHeaders)
}

// BuildAttributesFromValue flattens value into dotted span attributes under
// prefix, applying redactor (when given) before flattening.
func BuildAttributesFromValue(prefix string, value any, redactor *Redactor) ([]attribute.KeyValue, error) {
	if value == nil {
		return nil, nil
	}

	data, err := decodeAsJSONValue(value)
	if err != nil {
		return nil, err
	}

	if redactor != nil {
		data = obfuscateStructFields(data, "", redactor)
	}

	var attrs []attribute.KeyValue

	flattenAttributes(&attrs, sanitizeUTF8String(prefix), data, 0)

	return attrs, nil
}

// SetSpanAttributesFromValue flattens value into dotted attributes and sets
// them on span. Nil spans are a no-op.
func SetSpanAttributesFromValue(span trace.Span, prefix string, value any, redactor *Redactor) error {
	if span == nil {
		return nil
	}

	attrs, err := BuildAttributesFromValue(prefix, value, redactor)
	if err != nil {
		return err
	}

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return nil
}

// flattenAttributes walks decoded JSON data depth-first, emitting one
// attribute per leaf. Depth and count are bounded to keep span payloads sane.
func flattenAttributes(attrs *[]attribute.KeyValue, prefix string, value any, depth int) {
	if depth > maxAttributeDepth || len(*attrs) >= maxAttributeCount {
		return
	}

	switch v := value.(type) {
	case nil:
		return
	case map[string]any:
		for key, entry := range v {
			flattenAttributes(attrs, prefix+"."+sanitizeUTF8String(key), entry, depth+1)
		}
	case []any:
		for index, entry := range v {
			flattenAttributes(attrs, prefix+"."+strconv.Itoa(index), entry, depth+1)
		}
	case string:
		if len(v) > maxSpanAttributeStringLength {
			v = v[:maxSpanAttributeStringLength]
		}

		*attrs = append(*attrs, attribute.String(prefix, sanitizeUTF8String(v)))
	case json.Number:
		*attrs = append(*attrs, attribute.String(prefix, v.String()))
	case float64:
		*attrs = append(*attrs, attribute.Float64(prefix, v))
	case bool:
		*attrs = append(*attrs, attribute.Bool(prefix, v))
	default:
		*attrs = append(*attrs, attribute.String(prefix, sanitizeUTF8String(fmt.Sprintf("%+v", v))))
	}
}

// sanitizeUTF8String validates and sanitizes UTF-8 string.
// If the string contains invalid UTF-8 characters, they are replaced with the Unicode replacement character (�).
func sanitizeUTF8String(s string) string {
	if !utf8.ValidString(s) {
		return strings.ToValidUTF8(s, "�")
	}

	return s
}
