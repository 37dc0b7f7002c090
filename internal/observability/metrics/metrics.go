package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the billing protection instruments. It is the injected,
// concurrency-safe sink that replaces ad hoc counter rows.
type Metrics struct {
	reservations        metric.Int64Counter
	finalizeAttempts    metric.Int64Counter
	finalizeEscalations metric.Int64Counter
	planUsage           metric.Int64Counter
	sweepReleases       metric.Int64Counter
	compensationQueue   metric.Int64Gauge
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fieldline"
	}
	meter := provider.Meter(name)

	reservations, err := meter.Int64Counter("fieldline_pack_reservations_total")
	if err != nil {
		return nil, err
	}
	finalizeAttempts, err := meter.Int64Counter("fieldline_finalize_attempts_total")
	if err != nil {
		return nil, err
	}
	finalizeEscalations, err := meter.Int64Counter("fieldline_finalize_escalations_total")
	if err != nil {
		return nil, err
	}
	planUsage, err := meter.Int64Counter("fieldline_plan_usage_total")
	if err != nil {
		return nil, err
	}
	sweepReleases, err := meter.Int64Counter("fieldline_sweep_releases_total")
	if err != nil {
		return nil, err
	}
	compensationQueue, err := meter.Int64Gauge("fieldline_compensation_queue_size")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reservations:        reservations,
		finalizeAttempts:    finalizeAttempts,
		finalizeEscalations: finalizeEscalations,
		planUsage:           planUsage,
		sweepReleases:       sweepReleases,
		compensationQueue:   compensationQueue,
	}, nil
}

// RecordReservation counts reserve outcomes (reserved, no_pack, released, committed).
func (m *Metrics) RecordReservation(ctx context.Context, resource, outcome string) {
	if m == nil {
		return
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", strings.TrimSpace(resource)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordFinalizeAttempt counts individual commit attempts by result.
func (m *Metrics) RecordFinalizeAttempt(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.finalizeAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", strings.TrimSpace(result)),
	))
}

// RecordFinalizeEscalation counts reservations escalated to the compensation queue.
func (m *Metrics) RecordFinalizeEscalation(ctx context.Context) {
	if m == nil {
		return
	}
	m.finalizeEscalations.Add(ctx, 1)
}

// RecordPlanUsage counts actions billed against plan quota.
func (m *Metrics) RecordPlanUsage(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.planUsage.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", strings.TrimSpace(resource)),
	))
}

// RecordSweepReleases counts stale reservations recovered by the sweeper.
func (m *Metrics) RecordSweepReleases(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepReleases.Add(ctx, int64(n))
}

// SetCompensationQueueSize records the current unresolved backlog.
func (m *Metrics) SetCompensationQueueSize(ctx context.Context, size int64) {
	if m == nil {
		return
	}
	m.compensationQueue.Record(ctx, size)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
