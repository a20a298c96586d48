// Package obs wires a Wrapper's lifecycle event bus into OpenTelemetry
// tracing and metrics, grounded on the teacher's runtime-event-to-span
// translation but retargeted at catch-up, append, transaction, and
// quarantine events instead of graph node execution.
package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls whether and where observability data is exported.
type Config struct {
	// Enabled turns on the OTLP/HTTP trace exporter and registers the
	// tracer and meter providers globally. The meter provider has no reader
	// attached, so metrics recorded through it are not exported. When
	// false, Setup returns Providers with nil Tracer and Meter and no
	// global state is registered.
	Enabled bool

	// Endpoint is the OTLP/HTTP collector endpoint, e.g.
	// "http://localhost:4318".
	Endpoint string

	// ServiceName identifies this process in exported telemetry.
	ServiceName string
}

// Providers bundles the tracer and meter providers Setup created, along
// with a combined shutdown function.
type Providers struct {
	Tracer   *sdktrace.TracerProvider
	Meter    *sdkmetric.MeterProvider
	Shutdown func(context.Context) error
}

// Setup initializes OpenTelemetry tracing and metrics for the wrapper. It
// is opt-in: when cfg.Enabled is false or cfg.Endpoint is empty, Setup
// registers nothing globally and returns nil providers with a no-op
// shutdown.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Endpoint == "" {
		return &Providers{Shutdown: noop}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(shutCtx context.Context) error {
		if err := tp.Shutdown(shutCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutCtx)
	}

	return &Providers{Tracer: tp, Meter: mp, Shutdown: shutdown}, nil
}
