// Package telemetry configures OpenTelemetry tracing for the server
// process and exposes the tracer used to annotate poll cycles and broker
// publishes, in addition to the otelhttp wrapping applied to the HTTP
// surface.
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Configure registers a batching OTLP/gRPC exporter as the global tracer
// provider and returns a shutdown func plus the tracer this process should
// use for manual spans (poll cycles, broker publishes). Exporter
// configuration (endpoint, headers) comes from the standard OTEL_* env
// vars, same as the exporter's defaults.
func Configure(serviceName string) (trace.Tracer, func(context.Context)) {
	ctx := context.Background()

	client := otlptracegrpc.NewClient()
	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		log.Fatalf("telemetry: failed to initialize exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	shutdown := func(ctx context.Context) {
		_ = exp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
	}

	return otel.Tracer(serviceName), shutdown
}
