package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is host:port or a URL; empty keeps metrics in-process.
	OTLPEndpoint string
	Interval     time.Duration
}

type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	serviceName   string
}

// Init builds the meter provider and installs it globally.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nicrolabs-studio"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		exporter, err := newExporter(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return &Provider{MeterProvider: mp, serviceName: cfg.ServiceName}, nil
}

func newExporter(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{}
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		opts = append(opts, otlpmetrichttp.WithInsecure())
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	opts = append(opts, otlpmetrichttp.WithEndpoint(strings.TrimRight(endpoint, "/")))
	return otlpmetrichttp.New(ctx, opts...)
}

func (p *Provider) Meter() metric.Meter {
	return p.MeterProvider.Meter(p.serviceName)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}

// Metrics records generation outcomes.
type Metrics struct {
	generations metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	generations, err := meter.Int64Counter("studio.generations",
		metric.WithDescription("Settled generation requests"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("studio.generation.duration",
		metric.WithDescription("Generation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{generations: generations, duration: duration}, nil
}

func (m *Metrics) RecordGeneration(ctx context.Context, tier, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	)
	m.generations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
