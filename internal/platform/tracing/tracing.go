// Package tracing configures the OpenTelemetry tracer provider used by
// every worker role for HTTP, DB and queue spans.
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/louisb0/talos/internal/config"
)

// Shutdown tears down the tracer provider, flushing any buffered spans.
type Shutdown func(context.Context) error

// Setup configures a global tracer provider exporting via OTLP/gRPC when an
// endpoint is supplied; otherwise tracing is left disabled (no-op shutdown),
// matching the teacher's "no endpoint means no-op" convention.
func Setup(ctx context.Context, cfg config.Config, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		slog.Info("OTLP endpoint not set; tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return func(context.Context) error { return nil }, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ComponentName),
	))
	if err != nil {
		return func(context.Context) error { return nil }, err
	}

	samplingRatio := 1.0
	if cfg.IsProd() {
		samplingRatio = 0.1
	}
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRatio))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
