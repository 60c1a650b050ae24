// Package observability wires tracing (OpenTelemetry) and metrics
// (Prometheus) for the relay and the transport client. The zero Config
// leaves both disabled; every helper in this package is safe to call either
// way.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/okdaichi/overlaysync"

// Config selects which signals are exported.
type Config struct {
	// Service is reported as service.name.
	Service string

	// TraceAddr is the OTLP/gRPC collector address (host:port).
	// Empty disables tracing.
	TraceAddr string

	// Metrics enables the Prometheus collectors.
	Metrics bool
}

var (
	mu             sync.Mutex
	tracerProvider *sdktrace.TracerProvider
	metricsOn      atomic.Bool
)

// Setup installs the configured exporters. Calling Setup again replaces the
// previous setup.
func Setup(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if tracerProvider != nil {
		_ = tracerProvider.Shutdown(ctx)
		tracerProvider = nil
	}

	if cfg.Metrics {
		registerMetrics()
	}
	metricsOn.Store(cfg.Metrics)

	if cfg.TraceAddr == "" {
		return nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.TraceAddr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	service := cfg.Service
	if service == "" {
		service = "overlaysync"
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetTracerProvider(tracerProvider)

	slog.Info("tracing enabled", "collector", cfg.TraceAddr, "service", service)
	return nil
}

// Shutdown flushes and stops the exporters.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	metricsOn.Store(false)

	if tracerProvider == nil {
		return nil
	}
	err := tracerProvider.Shutdown(ctx)
	tracerProvider = nil
	return err
}

// Enabled reports whether tracing is exported.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return tracerProvider != nil
}

// MetricsEnabled reports whether metrics are collected.
func MetricsEnabled() bool { return metricsOn.Load() }

// Span wraps a trace span with a few conveniences.
type Span struct {
	span  trace.Span
	onEnd func()
}

// StartOption customizes StartWith.
type StartOption func(*startOptions)

type startOptions struct {
	attrs   []attribute.KeyValue
	onStart func()
	onEnd   func()
}

// Attrs sets initial span attributes.
func Attrs(kv ...attribute.KeyValue) StartOption {
	return func(o *startOptions) { o.attrs = append(o.attrs, kv...) }
}

// OnStart runs fn once the span has started.
func OnStart(fn func()) StartOption {
	return func(o *startOptions) { o.onStart = fn }
}

// OnEnd runs fn after the span ends.
func OnEnd(fn func()) StartOption {
	return func(o *startOptions) { o.onEnd = fn }
}

// Start begins a span named name.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	return StartWith(ctx, name)
}

// StartWith begins a span with options.
func StartWith(ctx context.Context, name string, opts ...StartOption) (context.Context, *Span) {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(o.attrs...))
	if o.onStart != nil {
		o.onStart()
	}
	return ctx, &Span{span: span, onEnd: o.onEnd}
}

// Event records a named event on the span.
func (s *Span) Event(name string, kv ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(kv...))
}

// Set adds attributes to the span.
func (s *Span) Set(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

// Error marks the span failed.
func (s *Span) Error(err error, msg string) {
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.SetStatus(codes.Error, msg)
}

// End finishes the span.
func (s *Span) End() {
	s.span.End()
	if s.onEnd != nil {
		s.onEnd()
	}
}

// Attribute helpers.

func Str(key, value string) attribute.KeyValue { return attribute.String(key, value) }

func Num(key string, value int64) attribute.KeyValue { return attribute.Int64(key, value) }

func PeerID(id string) attribute.KeyValue { return attribute.String("overlay.peer", id) }

func Transport(name string) attribute.KeyValue { return attribute.String("overlay.transport", name) }

func Fingerprint(fp string) attribute.KeyValue { return attribute.String("overlay.fingerprint", fp) }

func Receivers(n int) attribute.KeyValue { return attribute.Int("overlay.receivers", n) }

func Version(v uint64) attribute.KeyValue { return attribute.Int64("overlay.version", int64(v)) }
