package main

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// initTracing exports rewrite spans over OTLP/HTTP when
// OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_TRACES_ENDPOINT is set.
// The exporter reads the rest of its settings from the standard OTEL_*
// variables. Returns a shutdown function that flushes pending spans.
func initTracing() func() {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
		return func() {}
	}

	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		slog.Error("Failed to create trace exporter, tracing disabled.", "error", err)
		return func() {}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "ftexpose"))),
	)
	otel.SetTracerProvider(provider)
	slog.Info("Tracing enabled.")

	return func() {
		_ = provider.Shutdown(context.Background())
	}
}
