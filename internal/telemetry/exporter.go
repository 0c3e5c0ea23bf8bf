// Package telemetry exports run metrics over OpenTelemetry.
//
// An Exporter is a measure.Observer: register it on an engine with
// measure.WithObserver and every run contributes to the counters below.
// When telemetry is disabled, NoOp fills the same role.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/roach88/temeasure/internal/measure"
)

const (
	serviceName    = "temeasure"
	serviceVersion = "1.0.0"
)

// Metric names.
const (
	MetricRuns     = "temeasure_runs_total"
	MetricRows     = "temeasure_rows_total"
	MetricActive   = "temeasure_runs_active"
	MetricDuration = "temeasure_run_duration_seconds"
)

// Config holds OTEL exporter configuration.
type Config struct {
	Endpoint string
	Enabled  bool
	Insecure bool
}

// Recorder is what the CLI registers on every engine.
type Recorder interface {
	measure.Observer
	Close(ctx context.Context) error
}

// Exporter exports run metrics to an OTEL Collector.
type Exporter struct {
	provider     *sdkmetric.MeterProvider
	runsTotal    metric.Int64Counter
	rowsTotal    metric.Int64Counter
	activeRuns   metric.Int64UpDownCounter
	durationHist metric.Float64Histogram
}

// New returns an Exporter when cfg enables telemetry, and NoOp otherwise.
// An exporter that cannot be created is logged and replaced by NoOp; metrics
// never prevent a measurement.
func New(ctx context.Context, cfg Config, logger *slog.Logger) Recorder {
	if !cfg.Enabled {
		return NewNoOp()
	}
	exp, err := NewExporter(ctx, cfg)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		return NewNoOp()
	}
	return exp
}

// NewExporter creates an OTLP/gRPC metrics exporter.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	e, err := NewWithReader(ctx, sdkmetric.NewPeriodicReader(exp))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(e.provider)
	return e, nil
}

// NewWithReader creates an Exporter that feeds the given reader. Tests use a
// sdkmetric.ManualReader.
func NewWithReader(ctx context.Context, reader sdkmetric.Reader) (*Exporter, error) {
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
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(serviceName)

	runsTotal, err := meter.Int64Counter(
		MetricRuns,
		metric.WithDescription("Finished measurement runs by kind and final state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	rowsTotal, err := meter.Int64Counter(
		MetricRows,
		metric.WithDescription("Result rows appended"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rows counter: %w", err)
	}

	activeRuns, err := meter.Int64UpDownCounter(
		MetricActive,
		metric.WithDescription("Measurement runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active runs counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		MetricDuration,
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Exporter{
		provider:     provider,
		runsTotal:    runsTotal,
		rowsTotal:    rowsTotal,
		activeRuns:   activeRuns,
		durationHist: durationHist,
	}, nil
}

// RunStarted counts the run as active.
func (e *Exporter) RunStarted(info measure.RunInfo) {
	e.activeRuns.Add(context.Background(), 1, kindAttr(info))
}

// RowAppended counts one row.
func (e *Exporter) RowAppended(info measure.RunInfo, _ int) {
	e.rowsTotal.Add(context.Background(), 1, kindAttr(info))
}

// RunFinished records the outcome.
func (e *Exporter) RunFinished(info measure.RunInfo, outcome measure.Outcome) {
	ctx := context.Background()
	opt := metric.WithAttributes(
		attribute.String("kind", info.Kind),
		attribute.String("state", outcome.State.String()),
	)
	e.activeRuns.Add(ctx, -1, kindAttr(info))
	e.runsTotal.Add(ctx, 1, opt)
	e.durationHist.Record(ctx, outcome.Duration.Seconds(), opt)
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func kindAttr(info measure.RunInfo) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", info.Kind))
}

var _ Recorder = (*Exporter)(nil)
