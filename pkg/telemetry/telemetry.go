// Package telemetry provides OpenTelemetry distributed tracing for the
// clustering engine. It instruments each engine operation with spans,
// supports W3C Trace Context propagation, and exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/matluuk/linkscluster"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "linkscluster",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes engine-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.2.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the engine tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for engine operations ---

// StartRequest creates a root span for an incoming HTTP request.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.request",
		trace.WithAttributes(attribute.String("linkscluster.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartEmbedding creates a span for embedding generation.
func (p *Provider) StartEmbedding(ctx context.Context, vectorCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.embedding",
		trace.WithAttributes(attribute.Int("linkscluster.embedding.vector_count", vectorCount)),
	)
}

// StartPredict creates a span for a single Engine.Predict call.
func (p *Provider) StartPredict(ctx context.Context, clusterCount int, clusterSim float64) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.predict",
		trace.WithAttributes(
			attribute.Int("linkscluster.predict.cluster_count", clusterCount),
			attribute.Float64("linkscluster.predict.cluster_sim", clusterSim),
		),
	)
}

// StartUpdateCluster creates a span for the recursive graph-maintenance
// pass that follows a sub-cluster absorption.
func (p *Provider) StartUpdateCluster(ctx context.Context, subclusterCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.update_cluster",
		trace.WithAttributes(attribute.Int("linkscluster.update_cluster.subcluster_count", subclusterCount)),
	)
}

// StartMirror creates a span for a centroid-mirroring write to an
// external vector index.
func (p *Provider) StartMirror(ctx context.Context, centroidCount int, backend string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.mirror",
		trace.WithAttributes(
			attribute.Int("linkscluster.mirror.centroid_count", centroidCount),
			attribute.String("linkscluster.mirror.backend", backend),
		),
	)
}

// StartCacheLookup creates a span for a cache lookup.
func (p *Provider) StartCacheLookup(ctx context.Context, key string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.cache.lookup",
		trace.WithAttributes(attribute.String("linkscluster.cache.key", key)),
	)
}

// StartRetrieval creates a span for a vector DB read during replay.
func (p *Provider) StartRetrieval(ctx context.Context, pageSize int, backend string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "linkscluster.retrieval",
		trace.WithAttributes(
			attribute.Int("linkscluster.retrieval.page_size", pageSize),
			attribute.String("linkscluster.retrieval.backend", backend),
		),
	)
}

// RecordResult adds predict-outcome attributes to a span.
func RecordResult(span trace.Span, outcome string, clusterCount, subclusterCount int, latency time.Duration) {
	span.SetAttributes(
		attribute.String("linkscluster.result.outcome", outcome),
		attribute.Int("linkscluster.result.cluster_count", clusterCount),
		attribute.Int("linkscluster.result.subcluster_count", subclusterCount),
		attribute.Int64("linkscluster.result.latency_ms", latency.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
