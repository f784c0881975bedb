package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
)

// ProtocolHTTPProtobuf is the only OTLP transport wired in.
const ProtocolHTTPProtobuf = "http/protobuf"

// ErrUnsupportedProtocol is returned for OTLP protocols other than http/protobuf.
var ErrUnsupportedProtocol = errors.New("unsupported OTLP protocol")

// Init installs the global tracer provider and W3C propagators.
//
// With no endpoint configured tracing stays on the otel noop provider and the
// returned shutdown does nothing. Spans started through StartSpan are then free.
func Init(ctx context.Context, cfg config.ObservabilityConfig) (shutdown func(context.Context) error, err error) {
	if cfg.OTLPEndpoint == "" {
		log.Println("INFO: tracing disabled (GRID_OTEL_ENDPOINT not set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("INFO: tracing to %s as %s/%s", cfg.OTLPEndpoint, cfg.ServiceName, cfg.ServiceVersion)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}

func newExporter(ctx context.Context, cfg config.ObservabilityConfig) (*otlptrace.Exporter, error) {
	if cfg.OTLPProtocol != "" && cfg.OTLPProtocol != ProtocolHTTPProtobuf {
		return nil, fmt.Errorf("%w %q: use %s", ErrUnsupportedProtocol, cfg.OTLPProtocol, ProtocolHTTPProtobuf)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}
