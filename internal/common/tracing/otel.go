// Package tracing provides ambient OpenTelemetry span creation for RT's
// gin routes. Tracing is a no-op unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set, so the core never pays exporter cost
// (or requires a collector) in the common case.
package tracing

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	initOnce       sync.Once
	tracerProvider trace.TracerProvider = otel.GetTracerProvider()
)

// Init configures the global tracer provider. Safe to call multiple times;
// only the first call takes effect. When OTEL_EXPORTER_OTLP_ENDPOINT is
// unset, the default no-op provider from go.opentelemetry.io/otel is kept.
func Init(serviceName string) func(context.Context) error {
	shutdown := func(context.Context) error { return nil }

	initOnce.Do(func() {
		endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if endpoint == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		exporter, err := otlptracehttp.New(ctx)
		if err != nil {
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		tracerProvider = tp
		shutdown = tp.Shutdown
	})

	return shutdown
}

// Tracer returns a named tracer from the (possibly no-op) global provider.
func Tracer(name string) trace.Tracer {
	return tracerProvider.Tracer(name)
}
