// Package telemetry bootstraps OpenTelemetry for execd: a TracerProvider
// and MeterProvider exporting over OTLP gRPC, registered as the global
// providers so each package's otel.Tracer/otel.Meter calls pick them up.
// Telemetry failures degrade to no-op providers rather than failing the
// daemon.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Config holds telemetry settings.
type Config struct {
	// Enabled turns OTLP export on. Disabled leaves the global no-op
	// providers in place.
	Enabled bool

	// ServiceName labels exported data (default "execd").
	ServiceName string

	// ServiceVersion is stamped on the resource.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string

	// Insecure disables transport security toward the collector.
	Insecure bool

	// ExportInterval is the metric push period (default 30s).
	ExportInterval time.Duration
}

// Telemetry owns the providers and their shutdown.
type Telemetry struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logger         *zap.Logger
}

// New initializes telemetry and installs the global providers.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{logger: logger}

	if !cfg.Enabled {
		return t, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("telemetry endpoint is required when enabled")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "execd"
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 30 * time.Second
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		logger.Warn("tracer provider failed, tracing disabled", zap.Error(err))
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		logger.Warn("meter provider failed, metrics export disabled", zap.Error(err))
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*trace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
	), nil
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(cfg.ExportInterval),
		)),
	), nil
}
