package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "gridauth/http"

// ServerMetrics holds the otel instruments recorded by the HTTP layer.
// Prometheus collectors for authentication outcomes live in prometheus.go.
type ServerMetrics struct {
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	connections metric.Int64UpDownCounter
}

// NewServerMetrics registers the instruments on the global meter provider.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter(meterName)

	requests, err := meter.Int64Counter(
		"gridauth.http.requests",
		metric.WithDescription("HTTP requests by route and status class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Login requests include the IdP round trip, hence the long tail.
	latency, err := meter.Float64Histogram(
		"gridauth.http.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	connections, err := meter.Int64UpDownCounter(
		"gridauth.http.open_connections",
		metric.WithDescription("Open HTTP connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{requests: requests, latency: latency, connections: connections}, nil
}

// RecordRequest records one finished request. route is the chi route
// pattern, never the raw path.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
		attribute.String("http.status_class", statusClass(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, durationMs, attrs)
}

// ConnectionOpened is called from http.Server.ConnState.
func (m *ServerMetrics) ConnectionOpened(ctx context.Context) {
	m.connections.Add(ctx, 1)
}

// ConnectionClosed is called from http.Server.ConnState.
func (m *ServerMetrics) ConnectionClosed(ctx context.Context) {
	m.connections.Add(ctx, -1)
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
