package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/prometheus/client_golang/prometheus"
)

// NewMeterProvider builds an OTel MeterProvider whose reader is a
// Prometheus bridge registered into registry, and installs it as the global
// MeterProvider, so any code that records
// through the global otel.Meter API (rather than a direct promauto
// instrument on Metrics) is exposed on the same /metrics endpoint. It does
// not replace Metrics' own counters/gauges — those stay on client_golang
// directly, since they're driven synchronously off stream.Listener
// callbacks rather than the otel Meter's instrument model.
func NewMeterProvider(registry *prometheus.Registry) (*sdkmetric.MeterProvider, error) {
	reader, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Meter is a convenience accessor for code that wants to record through the
// otel Meter API against the MeterProvider NewMeterProvider installed.
func Meter(mp *sdkmetric.MeterProvider, name string) metric.Meter {
	return mp.Meter(name)
}

// ShutdownMeterProvider flushes and releases mp's resources.
func ShutdownMeterProvider(ctx context.Context, mp *sdkmetric.MeterProvider) error {
	if mp == nil {
		return nil
	}
	return mp.Shutdown(ctx)
}
