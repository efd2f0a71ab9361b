// Package telemetry wires up OpenTelemetry tracing, grounded on the
// teacher's span-per-operation style (see lookuptrace.ServerInterceptor)
// but adapted from gRPC interceptors to a tracer used directly around
// inbound WebSocket message handling, since there is no RPC framework
// in this service to intercept.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "proxchat"

// Config controls whether and how tracing is enabled.
type Config struct {
	Enabled  bool
	Exporter string // "stdout" or "otlp"
	Endpoint string // used when Exporter == "otlp"
}

// InitTracer builds and registers a global TracerProvider per cfg. It
// returns a shutdown function the caller must invoke during graceful
// shutdown; when tracing is disabled, both returns are no-ops.
func InitTracer(ctx context.Context, cfg Config, serviceName string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
}

// Tracer returns the package-wide tracer, lazily honoring whatever
// TracerProvider InitTracer registered (a no-op one if tracing is off).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartMessageSpan opens a span around handling one inbound message,
// named after its wire type.
func StartMessageSpan(ctx context.Context, messageType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.handle."+messageType, trace.WithSpanKind(trace.SpanKindInternal))
}
