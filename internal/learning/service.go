// Package learning applies a converged turn to the long-lived learned state:
// the coupling matrix and the family pool. Both are updated under one lock so
// concurrent turns never observe one updated without the other.
package learning

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/coupling"
	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/signature"
)

const component = "learning"

// ErrNilStore is returned by NewService when a store is missing.
var ErrNilStore = errors.New("learning service requires coupling store and family pool")

// Outcome reports what one Learn call changed.
type Outcome struct {
	Family       family.Assignment `json:"family"`
	Clustered    bool              `json:"clustered"`
	PairsUpdated int               `json:"pairs_updated"`
	CouplingStd  float64           `json:"coupling_std"`
	Saturated    bool              `json:"saturated"`
}

// Service owns the learned state. Safe for concurrent use.
type Service struct {
	coupling *coupling.Store
	families *family.Pool
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *Metrics

	mu sync.Mutex
}

// NewService wires a coupling store and family pool.
func NewService(c *coupling.Store, f *family.Pool, logger *zap.Logger) (*Service, error) {
	if c == nil || f == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		coupling: c,
		families: f,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		metrics:  NewMetrics(logger),
	}
	s.metrics.observe(s)
	return s, nil
}

// Learn clusters sig and folds activations into the coupling matrix. A
// signature the pool rejects is recorded on trace and skipped; coupling is
// still updated.
func (s *Service) Learn(ctx context.Context, sig signature.Composite, activations map[evaluator.Kind]float64, tr *diag.Trace) Outcome {
	ctx, span := s.tracer.Start(ctx, "learning.Learn",
		trace.WithAttributes(attribute.String("turn.id", sig.TurnID)))
	defer span.End()

	s.mu.Lock()
	var out Outcome
	assignment, err := s.families.Observe(sig)
	if err != nil {
		tr.Add(diag.CategoryDegradedInput, component, err.Error())
		span.RecordError(err)
	} else {
		out.Family = assignment
		out.Clustered = true
	}
	out.PairsUpdated = s.coupling.Update(activations, sig.Satisfaction)
	out.CouplingStd = s.coupling.Std()
	out.Saturated = s.coupling.Saturated()
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("family.id", out.Family.FamilyID),
		attribute.Bool("family.created", out.Family.Created),
		attribute.Int("coupling.pairs_updated", out.PairsUpdated),
		attribute.Float64("coupling.std", out.CouplingStd),
	)
	s.metrics.RecordLearn(ctx, out)

	if out.Family.Created {
		s.logger.Info("new family discovered",
			zap.String("turn.id", sig.TurnID),
			zap.String("family.id", out.Family.FamilyID),
			zap.Int("family.count", out.Family.FamilyCount))
	}
	return out
}

// Coupling implements nexus.CouplingReader.
func (s *Service) Coupling(a, b evaluator.Kind) float64 {
	return s.coupling.Coupling(a, b)
}

// Families exposes the pool for persistence and diagnostics.
func (s *Service) Families() *family.Pool { return s.families }

// CouplingStore exposes the matrix for persistence and diagnostics.
func (s *Service) CouplingStore() *coupling.Store { return s.coupling }

// Snapshot captures both stores consistently.
func (s *Service) Snapshot() (coupling.Snapshot, family.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupling.Snapshot(), s.families.Snapshot()
}
