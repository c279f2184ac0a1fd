// Package telemetry sets up OpenTelemetry tracing for a run.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "meshrun"

// Attribute keys used on driver spans.
const (
	RunIDKey    = attribute.Key("meshrun.run.id")
	RankKey     = attribute.Key("meshrun.rank")
	TimestepKey = attribute.Key("meshrun.timestep")
	ChunkKey    = attribute.Key("meshrun.chunk")
	ModulesKey  = attribute.Key("meshrun.modules")
)

// Provider owns a tracer and knows how to flush it.
type Provider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Tracer returns the tracer spans should be started from.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(ServiceName)}
}

// NewOTLP creates a provider exporting spans over OTLP/HTTP. The exporter is
// configured through the standard OTEL_EXPORTER_OTLP_* environment variables.
func NewOTLP(ctx context.Context, runID string, rank int) (*Provider, error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	return newProvider(sdktrace.WithBatcher(exporter), runID, rank)
}

// NewWithSpanProcessor creates a provider feeding spans to sp. Tests use it
// with a tracetest.SpanRecorder.
func NewWithSpanProcessor(sp sdktrace.SpanProcessor, runID string, rank int) (*Provider, error) {
	return newProvider(sdktrace.WithSpanProcessor(sp), runID, rank)
}

func newProvider(opt sdktrace.TracerProviderOption, runID string, rank int) (*Provider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			RunIDKey.String(runID),
			RankKey.Int(rank),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		opt,
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return &Provider{tracer: tp.Tracer(ServiceName), shutdown: tp.Shutdown}, nil
}
