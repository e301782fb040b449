// Package telemetry wires OpenTelemetry tracing and metrics behind the
// core.Telemetry / core.MetricsRegistry interfaces so that every component
// in this repository depends on those small interfaces, never on the otel
// SDK directly.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/cogforge/coc/core"
)

// Provider bundles a tracer and meter under the core.Telemetry and
// core.MetricsRegistry interfaces, plus a Shutdown hook for the process
// entrypoint's drain sequence.
type Provider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64ObservableGauge
	histograms map[string]metric.Float64Histogram
	gaugeVals  map[string]float64
}

// New builds a Provider. When OTEL_EXPORTER_OTLP_ENDPOINT is set it exports
// via OTLP/gRPC; otherwise it exports to stdout, matching development mode
// in the teacher's own zero-configuration OTEL bootstrap.
func New(ctx context.Context, serviceName string) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var sampler sdktrace.Sampler = sdktrace.AlwaysSample()
	var opts []sdktrace.TracerProviderOption
	opts = append(opts, sdktrace.WithResource(res), sdktrace.WithSampler(sampler))

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("telemetry: build stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	p := &Provider{
		tracer:        tp.Tracer(serviceName),
		meter:         noopmetric.NewMeterProvider().Meter(serviceName),
		traceProvider: tp,
		counters:      make(map[string]metric.Float64Counter),
		gauges:        make(map[string]metric.Float64ObservableGauge),
		histograms:    make(map[string]metric.Float64Histogram),
		gaugeVals:     make(map[string]float64),
	}
	return p, nil
}

// StartSpan implements core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry with a generic histogram emission.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.Histogram(name, value, flattenLabels(labels)...)
}

// Counter implements core.MetricsRegistry.
func (p *Provider) Counter(name string, labels ...string) {
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		var err error
		c, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = c
	}
	p.mu.Unlock()
	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

// Gauge implements core.MetricsRegistry. It caches the latest value per
// name; no observable instrument is registered, so gauge values are not
// exported.
func (p *Provider) Gauge(name string, value float64, labels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gaugeVals[name] = value
}

// Histogram implements core.MetricsRegistry.
func (p *Provider) Histogram(name string, value float64, labels ...string) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		var err error
		h, err = p.meter.Float64Histogram(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

// Shutdown flushes pending spans. Call during the edge shutdown coordinator's
// drain sequence.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.traceProvider == nil {
		return nil
	}
	return p.traceProvider.Shutdown(ctx)
}

func toAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

func flattenLabels(labels map[string]string) []string {
	out := make([]string, 0, len(labels)*2)
	for k, v := range labels {
		out = append(out, k, v)
	}
	return out
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }
func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", value)))
}
func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }
