// Package telemetry owns the metric instruments recorded by the pool and the
// tracker, and optionally ships them to an OTLP collector.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "focuslog"
	serviceVersion = "0.1.0"
	meterName      = "github.com/benjamonnguyen/focuslog"
)

type Instruments struct {
	EventsRecorded metric.Int64Counter
	EventsFlushed  metric.Int64Counter
	FlushFailures  metric.Int64Counter
	Sessions       metric.Int64Counter
	AcquireWait    metric.Float64Histogram
	PoolExhausted  metric.Int64Counter
}

// NewInstruments creates the instruments on mp, or on the global provider when
// mp is nil.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		in  Instruments
		err error
	)
	if in.EventsRecorded, err = meter.Int64Counter(
		"focuslog_events_recorded_total",
		metric.WithDescription("Events appended to the session buffer"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("creating events recorded counter: %w", err)
	}
	if in.EventsFlushed, err = meter.Int64Counter(
		"focuslog_events_flushed_total",
		metric.WithDescription("Buffered events persisted by a flush"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("creating events flushed counter: %w", err)
	}
	if in.FlushFailures, err = meter.Int64Counter(
		"focuslog_flush_failures_total",
		metric.WithDescription("Flushes that left events in the buffer"),
		metric.WithUnit("{flush}"),
	); err != nil {
		return nil, fmt.Errorf("creating flush failures counter: %w", err)
	}
	if in.Sessions, err = meter.Int64Counter(
		"focuslog_sessions_total",
		metric.WithDescription("Sessions finalized, by outcome"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}
	if in.AcquireWait, err = meter.Float64Histogram(
		"focuslog_pool_acquire_wait_seconds",
		metric.WithDescription("Time spent waiting for a pooled connection"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating acquire wait histogram: %w", err)
	}
	if in.PoolExhausted, err = meter.Int64Counter(
		"focuslog_pool_exhausted_total",
		metric.WithDescription("Acquire calls that timed out"),
		metric.WithUnit("{acquire}"),
	); err != nil {
		return nil, fmt.Errorf("creating pool exhausted counter: %w", err)
	}
	return &in, nil
}

var (
	defaultOnce sync.Once
	defaultIn   *Instruments
)

// Default returns instruments bound to the global meter provider. They are
// no-ops until Setup installs an exporting provider.
func Default() *Instruments {
	defaultOnce.Do(func() {
		in, err := NewInstruments(nil)
		if err != nil {
			in, _ = NewInstruments(noop.NewMeterProvider())
		}
		defaultIn = in
	})
	return defaultIn
}

func (in *Instruments) ObserveAcquire(ctx context.Context, wait time.Duration) {
	in.AcquireWait.Record(ctx, wait.Seconds())
}

func (in *Instruments) ObserveFlush(ctx context.Context, n int, err error) {
	if err != nil {
		in.FlushFailures.Add(ctx, 1)
		return
	}
	in.EventsFlushed.Add(ctx, int64(n))
}

func (in *Instruments) ObserveSession(ctx context.Context, outcome string) {
	in.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

type Config struct {
	Endpoint string
	Insecure bool
}

// Setup installs an OTLP/gRPC meter provider as the global provider. With no
// endpoint it does nothing. The returned func flushes and shuts the provider
// down.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
