// Package telemetry exports lock, workload and storage spans over OTLP and
// runs the optional Pyroscope profiler.
//
// Span names are prefixed by subsystem: "lock.wait", "lock.ticket_wait" and
// "lock.temp_release" come from the lock stack, "workload.<op>" from the
// workload runner and "storage.<op>" from the snapshot store. Until Init
// enables tracing every helper runs against a no-op tracer.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName identifies the lock server to trace and profile backends.
const ServiceName = "dittolock"

const shutdownTimeout = 5 * time.Second

// TracingConfig selects the OTLP collector that receives spans.
type TracingConfig struct {
	Enabled bool

	// Endpoint is the collector's gRPC address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of root spans kept, clamped to [0, 1].
	SampleRate float64

	// Version is reported as service.version.
	Version string
}

func (c TracingConfig) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRate >= 1:
		return sdktrace.AlwaysSample()
	case c.SampleRate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRate))
	}
}

var (
	mu      sync.RWMutex
	tracer  trace.Tracer = noop.NewTracerProvider().Tracer(ServiceName)
	enabled bool
)

// Init installs the OTLP tracer provider. The returned function flushes
// pending spans and must be called on shutdown. With tracing disabled the
// no-op tracer stays in place.
func Init(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		setTracer(noop.NewTracerProvider().Tracer(ServiceName), false)
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter for %s: %w", cfg.Endpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	setTracer(provider.Tracer(ServiceName), true)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return provider.Shutdown(ctx)
	}, nil
}

func setTracer(t trace.Tracer, on bool) {
	mu.Lock()
	tracer = t
	enabled = on
	mu.Unlock()
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracer
}

// IsEnabled reports whether spans are exported.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed with err. A nil err is ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ============================================================================
// Span helpers
// ============================================================================

// StartLockSpan starts "lock.<operation>".
func StartLockSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "lock."+operation, trace.WithAttributes(attrs...))
}

// StartWorkloadSpan starts "workload.<operation>" tagged with the client.
func StartWorkloadSpan(ctx context.Context, operation string, clientID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Operation(operation), ClientID(clientID)}, attrs...)
	return StartSpan(ctx, "workload."+operation, trace.WithAttributes(all...))
}

// StartStorageSpan starts "storage.<operation>".
func StartStorageSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "storage."+operation, trace.WithAttributes(attrs...))
}

// ============================================================================
// Attributes
// ============================================================================

const (
	AttrLockerID           = "lock.locker_id"
	AttrResource           = "lock.resource"
	AttrLockMode           = "lock.mode"
	AttrTimeoutMs          = "lock.timeout_ms"
	AttrTicketsCapacity    = "tickets.capacity"
	AttrTicketsOutstanding = "tickets.outstanding"
	AttrClientID           = "workload.client_id"
	AttrOperation          = "workload.operation"
	AttrStorageKey         = "storage.key"
)

// LockerID tags the locker that owns a request.
func LockerID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrLockerID, int64(id))
}

// Resource tags a resource id in its printed form.
func Resource(r string) attribute.KeyValue {
	return attribute.String(AttrResource, r)
}

// LockMode tags the requested mode.
func LockMode(m string) attribute.KeyValue {
	return attribute.String(AttrLockMode, m)
}

// TimeoutMs tags an acquisition timeout. Negative timeouts are infinite and
// reported as -1.
func TimeoutMs(d time.Duration) attribute.KeyValue {
	if d < 0 {
		return attribute.Int64(AttrTimeoutMs, -1)
	}
	return attribute.Int64(AttrTimeoutMs, d.Milliseconds())
}

func TicketsCapacity(n int) attribute.KeyValue {
	return attribute.Int(AttrTicketsCapacity, n)
}

func TicketsOutstanding(n int) attribute.KeyValue {
	return attribute.Int(AttrTicketsOutstanding, n)
}

func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// StorageKey tags a snapshot store key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrStorageKey, key)
}
