package convergence

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/feltd/internal/convergence"

// Metrics holds convergence instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	cycles   metric.Int64Histogram
	outcomes metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"feltd.convergence.duration_seconds",
		metric.WithDescription("Wall time of one turn's convergence loop"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.cycles, err = m.meter.Int64Histogram(
		"feltd.convergence.cycles",
		metric.WithDescription("Cycles used per turn"),
		metric.WithUnit("{cycle}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 8, 16),
	)
	if err != nil {
		m.logger.Warn("failed to create cycles histogram", zap.Error(err))
	}

	m.outcomes, err = m.meter.Int64Counter(
		"feltd.convergence.outcomes_total",
		metric.WithDescription("Terminal states reached, labeled by state"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		m.logger.Warn("failed to create outcomes counter", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"feltd.convergence.evaluator_failures_total",
		metric.WithDescription("Evaluator calls that timed out or panicked, labeled by kind"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create failures counter", zap.Error(err))
	}
}

// RecordTurn records one completed convergence.
func (m *Metrics) RecordTurn(ctx context.Context, state State, cycles int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state.String()))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.cycles != nil {
		m.cycles.Record(ctx, int64(cycles))
	}
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, attrs)
	}
}

// RecordFailure records one failed evaluator call.
func (m *Metrics) RecordFailure(ctx context.Context, kind, reason string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}
