// Package telemetry sets up optional OpenTelemetry trace export. When
// disabled the global tracer provider stays a no-op and span creation
// throughout the relay costs almost nothing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options configures OTLP/HTTP trace export.
type Options struct {
	Enabled     bool
	Endpoint    string // host:port of the OTLP/HTTP collector
	Insecure    bool
	ServiceName string
	Headers     map[string]string // extra headers, e.g. auth tokens
}

// Setup installs the global tracer provider and returns a shutdown func.
// With Enabled false it is a no-op.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}
	if opts.Endpoint == "" {
		return noop, fmt.Errorf("telemetry enabled without endpoint")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "warelay"
	}

	expOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		expOpts = append(expOpts, otlptracehttp.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		expOpts = append(expOpts, otlptracehttp.WithHeaders(opts.Headers))
	}

	exporter, err := otlptracehttp.New(ctx, expOpts...)
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)
	slog.Info("trace export enabled", "endpoint", opts.Endpoint, "service", opts.ServiceName)

	return provider.Shutdown, nil
}
