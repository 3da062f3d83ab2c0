// Package observability wires OpenTelemetry tracing and metrics
// around HTTP requests and engine operations, exporting metrics in
// Prometheus exposition format. Every provider here is noop-safe: a
// nil Observability falls back to the OTel global providers and
// degrades gracefully when none is configured.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"

	"spine/job"
)

const instrumentationName = "spine"

// Observability bundles the tracer and meter used by the HTTP
// middleware and the engine Recorder, plus the metric instruments
// derived from the meter.
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Exporter

	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	opDuration      metric.Float64Histogram
	opTotal         metric.Int64Counter
	opErrors        metric.Int64Counter
}

// New builds an Observability backed by a Prometheus-exporting OTel
// meter provider and the OTel global tracer provider. Callers serve
// MetricsHandler at /metrics to expose what the exporter collects.
func New() (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("observability: create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	o := &Observability{
		tracer:        otel.Tracer(instrumentationName),
		meter:         mp.Meter(instrumentationName),
		meterProvider: mp,
		registry:      exporter,
	}

	if err := o.buildInstruments(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observability) buildInstruments() error {
	var err error

	o.requestDuration, err = o.meter.Float64Histogram(
		"spine.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("observability: request duration histogram: %w", err)
	}

	o.requestTotal, err = o.meter.Int64Counter(
		"spine.http.request.count",
		metric.WithDescription("HTTP requests served"),
	)
	if err != nil {
		return fmt.Errorf("observability: request counter: %w", err)
	}

	o.opDuration, err = o.meter.Float64Histogram(
		"spine.engine.operation.duration",
		metric.WithDescription("Engine operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("observability: operation duration histogram: %w", err)
	}

	o.opTotal, err = o.meter.Int64Counter(
		"spine.engine.operation.count",
		metric.WithDescription("Engine operations executed"),
	)
	if err != nil {
		return fmt.Errorf("observability: operation counter: %w", err)
	}

	o.opErrors, err = o.meter.Int64Counter(
		"spine.engine.operation.errors",
		metric.WithDescription("Engine operations that returned an error"),
	)
	if err != nil {
		return fmt.Errorf("observability: operation error counter: %w", err)
	}

	return nil
}

// Shutdown flushes and releases the underlying meter provider.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}

// RecordOperation implements engine.Recorder, reporting each engine
// operation's duration and outcome as metrics. It does not create
// spans; tracing covers HTTP requests only (see Middleware).
func (o *Observability) RecordOperation(op string, j *job.Job, err error, elapsed time.Duration) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("operation", op)}
	if j != nil {
		attrs = append(attrs, attribute.String("job.id", j.ID), attribute.String("job.status", string(j.Status)))
	}

	ctx := context.Background()
	o.opDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	o.opTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		o.opErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Tracer returns the tracer used for HTTP request spans.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil || o.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return o.tracer
}
