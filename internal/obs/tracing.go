// Package obs wires OpenTelemetry tracing around the long-running
// operations worth seeing in a trace backend: the AI sampling loop's
// iterations and the individual sampling round-trips inside it. No
// exporter is configured here — InitTracerProvider wires a TracerProvider
// an operator can later attach a real exporter to (otlp, stdout, etc.)
// without touching the call sites that create spans.
package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the service-wide tracer every traced operation starts spans
// from. Safe to use before InitTracerProvider runs — otel.Tracer falls
// back to a no-op implementation until a provider is registered.
var Tracer = otel.Tracer("dumpserver")

// InitTracerProvider registers a TracerProvider tagged with serviceName,
// returning a shutdown func to flush and release it on process exit.
func InitTracerProvider(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer(serviceName)

	return tp.Shutdown, nil
}

// StartSpan is a thin convenience wrapper so call sites don't each import
// both otel and otel/trace just to name a span.
func StartSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, attrs...)
}
