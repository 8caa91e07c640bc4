package learning

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/feltd/internal/learning"

// Metrics holds learning instruments.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	assignments metric.Int64Counter
	pairs       metric.Int64Counter
	families    metric.Int64ObservableGauge
	couplingStd metric.Float64ObservableGauge
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

	m.assignments, err = m.meter.Int64Counter(
		"feltd.families.assignments_total",
		metric.WithDescription("Signatures assigned to families, labeled by whether a family was created"),
		metric.WithUnit("{signature}"),
	)
	if err != nil {
		m.logger.Warn("failed to create assignments counter", zap.Error(err))
	}

	m.pairs, err = m.meter.Int64Counter(
		"feltd.coupling.pair_updates_total",
		metric.WithDescription("Coupling matrix pair updates"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		m.logger.Warn("failed to create pair updates counter", zap.Error(err))
	}

	m.families, err = m.meter.Int64ObservableGauge(
		"feltd.families.count",
		metric.WithDescription("Number of discovered families"),
		metric.WithUnit("{family}"),
	)
	if err != nil {
		m.logger.Warn("failed to create family count gauge", zap.Error(err))
	}

	m.couplingStd, err = m.meter.Float64ObservableGauge(
		"feltd.coupling.std",
		metric.WithDescription("Standard deviation of off-diagonal coupling entries"),
	)
	if err != nil {
		m.logger.Warn("failed to create coupling std gauge", zap.Error(err))
	}
}

// observe registers the gauge callback against s.
func (m *Metrics) observe(s *Service) {
	if m.families == nil || m.couplingStd == nil {
		return
	}
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.families, int64(s.families.Len()))
		o.ObserveFloat64(m.couplingStd, s.coupling.Std())
		return nil
	}, m.families, m.couplingStd)
	if err != nil {
		m.logger.Warn("failed to register learning gauges", zap.Error(err))
	}
}

// RecordLearn records one Learn call.
func (m *Metrics) RecordLearn(ctx context.Context, out Outcome) {
	if m == nil {
		return
	}
	if m.assignments != nil && out.Clustered {
		m.assignments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("created", out.Family.Created)))
	}
	if m.pairs != nil && out.PairsUpdated > 0 {
		m.pairs.Add(ctx, int64(out.PairsUpdated))
	}
}
