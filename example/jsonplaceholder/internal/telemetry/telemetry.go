package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kroma-labs/manifold/example/jsonplaceholder/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the providers handed to the manifold client. Nothing is
// installed globally: the client receives them through its options.
type Telemetry struct {
	// TracerProvider feeds middleware.TracingConfig.
	TracerProvider trace.TracerProvider

	// Propagator writes traceparent/baggage into outgoing request headers.
	Propagator propagation.TextMapPropagator

	// MeterProvider feeds httpclient.WithMeterProvider, so the pipeline
	// instruments (renewals, loop detections, gateway latency) are exported.
	MeterProvider metric.MeterProvider

	// Registry collects both the pipeline instruments and the collectors of
	// middleware.Prometheus.
	Registry *prometheus.Registry

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup builds an OTLP trace pipeline and a Prometheus-backed meter
// provider sharing one registry.
func Setup(ctx context.Context) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	promExporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)

	return &Telemetry{
		TracerProvider: tp,
		Propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		MeterProvider: mp,
		Registry:      reg,
		tp:            tp,
		mp:            mp,
	}, nil
}

// Handler serves the registry on /metrics.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{Registry: t.Registry})
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
