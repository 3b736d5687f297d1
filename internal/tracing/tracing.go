// Package tracing builds the runtime's OpenTelemetry tracer and offers span
// helpers (Start, RecordError, WrapErr). cmd/nexus constructs a Tracer at
// startup; no package in this module opens spans with it.
//
// Grounded on internal/observability/tracing.go's Tracer/TraceConfig shape
// and no-op-when-unconfigured fallback, trimmed of the gRPC/OTLP exporter
// option surface the teacher exposes (EnableInsecure, per-attribute
// resource building) to just what Config needs to stand up a batching
// OTLP exporter or fall back to a no-op tracer.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer. A zero Endpoint yields a no-op tracer.
type Config struct {
	ServiceName  string
	Environment  string
	Endpoint     string
	SamplingRate float64
}

// Tracer wraps an OTel trace.Tracer with the runtime's default service name.
type Tracer struct {
	tracer trace.Tracer
}

// New builds a Tracer and a shutdown function. If config.Endpoint is empty,
// or the exporter fails to construct, New falls back to a no-op tracer
// rather than failing startup.
func New(config Config) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "nexus"
	}

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}

	if config.SamplingRate <= 0 {
		config.SamplingRate = 1.0
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(config.Endpoint),
	))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName)}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.TraceIDRatioBased(config.SamplingRate)
	if config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

func noop(context.Context) error { return nil }

// Start opens a span named after the operation (e.g. "dispatch.turn",
// "tool.execute", "scheduler.fire") and returns the span-carrying context.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError marks the span as failed and attaches the error.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// WrapErr is a convenience for ending a span with an error status derived
// from the deferred return value: `defer func() { tracing.WrapErr(span, &err) }()`.
func WrapErr(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		RecordError(span, *errp)
	}
	span.End()
}
