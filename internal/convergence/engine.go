package convergence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
)

var tracer = otel.Tracer(instrumentationName)

// Errors returned by NewEngine.
var (
	ErrNoEvaluators     = errors.New("at least one evaluator is required")
	ErrDuplicateKind    = errors.New("duplicate evaluator kind")
	ErrInvalidEvaluator = errors.New("invalid evaluator kind")
)

// Engine runs the convergence loop. It holds no per-turn state and is safe
// for concurrent use.
type Engine struct {
	cfg        Config
	evaluators []evaluator.Evaluator
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over evals. Each kind may appear once.
func NewEngine(cfg Config, evals []evaluator.Evaluator, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(evals) == 0 {
		return nil, ErrNoEvaluators
	}
	seen := make(map[evaluator.Kind]bool, len(evals))
	for _, ev := range evals {
		k := ev.Kind()
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidEvaluator, int(k))
		}
		if seen[k] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, k)
		}
		seen[k] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		evaluators: evals,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(logger)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Converge runs the loop for one turn. base supplies the turn-scoped
// evaluator context; the engine sets Lure, FieldMean and Previous on a copy
// for each cycle. Converge always returns a Result, including when ctx is
// cancelled mid-turn.
func (e *Engine) Converge(ctx context.Context, turnID string, occasions []evaluator.Occasion, base evaluator.Context) Result {
	ctx, span := tracer.Start(ctx, "Engine.Converge")
	defer span.End()
	start := e.now()

	complexity := Complexity(occasions)
	state := StateInitializing
	prevS := neutralSatisfaction
	var (
		trajectory  []CycleRecord
		prevSignals map[evaluator.Kind]evaluator.Signal
		prevE       float64
		prevDelta   float64
		meanPrev    float64
		curE, curS  float64
		kairos      bool
		cycle       int
	)

	for ; !state.Terminal(); cycle++ {
		cycleStart := time.Now()

		cctx := base
		cctx.Lure = e.cfg.Lure
		cctx.FieldMean = meanPrev
		cctx.Previous = prevSignals

		signals, failed := e.runCycle(ctx, occasions, cycle, &cctx)

		curS = Satisfaction(signals)
		curE = energy(e.cfg.Weights, prevS, prevDelta, unmet(signals), complexity)
		deltaE := curE - prevE
		mean, reporting := fieldMean(signals)

		trajectory = append(trajectory, CycleRecord{
			Cycle:        cycle,
			State:        state,
			Energy:       curE,
			Satisfaction: curS,
			DeltaE:       deltaE,
			FieldMean:    mean,
			Reporting:    reporting,
			Failed:       failed,
			Duration:     time.Since(cycleStart),
		})

		e.logger.Debug("convergence cycle",
			zap.String("turn_id", turnID),
			zap.Int("cycle", cycle),
			zap.String("state", state.String()),
			zap.Float64("energy", curE),
			zap.Float64("satisfaction", curS),
			zap.Float64("delta_e", deltaE),
			zap.Int("reporting", reporting))

		// Kairos needs a previous energy to compare against.
		if cycle > 0 && curS >= e.cfg.BandMin && curS <= e.cfg.BandMax && math.Abs(deltaE) < e.cfg.Epsilon {
			kairos = true
		}
		switch {
		case kairos:
			state = StateConverged
		case cycle+1 >= e.cfg.MaxCycles, ctx.Err() != nil:
			state = StateExhausted
		default:
			state = StateRefining
		}

		if cycle > 0 {
			prevDelta = deltaE
		}
		prevE, prevS, meanPrev = curE, curS, mean
		prevSignals = byKind(signals)
	}

	final := prevSignals
	dist := coreDistance(final, curS)
	res := Result{
		Signature:      compose(turnID, final, curE, curS, cycle, e.cfg.MaxCycles, kairos, dist, e.now()),
		Energy:         curE,
		Satisfaction:   curS,
		Cycles:         cycle,
		KairosAchieved: kairos,
		State:          state,
		Trajectory:     trajectory,
		Signals:        final,
		CoreDistance:   dist,
	}

	if state == StateExhausted {
		base.Trace.Add(diag.CategoryConvergenceExhausted, "convergence",
			fmt.Sprintf("max cycles %d reached without kairos", e.cfg.MaxCycles))
	}

	elapsed := e.now().Sub(start)
	e.metrics.RecordTurn(ctx, state, cycle, elapsed)
	span.SetAttributes(
		attribute.String("turn.id", turnID),
		attribute.Int("cycles", cycle),
		attribute.String("state", state.String()),
		attribute.Bool("kairos", kairos),
		attribute.Float64("energy", curE),
		attribute.Float64("satisfaction", curS),
	)
	e.logger.Debug("convergence complete",
		zap.String("turn_id", turnID),
		zap.String("state", state.String()),
		zap.Int("cycles", cycle),
		zap.Bool("kairos", kairos),
		zap.Duration("duration", elapsed))

	return res
}

// runCycle fans the evaluators out and waits for all of them.
func (e *Engine) runCycle(ctx context.Context, occasions []evaluator.Occasion, cycle int, c *evaluator.Context) ([]evaluator.Signal, int) {
	signals := make([]evaluator.Signal, len(e.evaluators))
	failedFlags := make([]bool, len(e.evaluators))

	var g errgroup.Group
	for i, ev := range e.evaluators {
		g.Go(func() error {
			signals[i], failedFlags[i] = e.runOne(ctx, ev, occasions, cycle, c)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, f := range failedFlags {
		if f {
			failed++
		}
	}
	return signals, failed
}

type outcome struct {
	sig    evaluator.Signal
	reason string
}

// runOne calls a single evaluator under the per-evaluator timeout. A
// timeout or panic yields a silent signal.
func (e *Engine) runOne(ctx context.Context, ev evaluator.Evaluator, occasions []evaluator.Occasion, cycle int, c *evaluator.Context) (evaluator.Signal, bool) {
	kind := ev.Kind()
	ectx, cancel := context.WithTimeout(ctx, e.cfg.EvaluatorTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{reason: fmt.Sprintf("panic: %v", r)}
			}
		}()
		sig := ev.Evaluate(ectx, occasions, cycle, c)
		sig.Kind = kind
		done <- outcome{sig: sig}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ectx.Done():
		out = outcome{reason: "timeout: " + ectx.Err().Error()}
	}
	if out.reason == "" {
		return out.sig, false
	}

	e.logger.Warn("evaluator failed, substituting silent signal",
		zap.String("kind", kind.String()),
		zap.Int("cycle", cycle),
		zap.String("reason", out.reason))
	e.metrics.RecordFailure(ctx, kind.String(), reasonLabel(out.reason))
	c.Trace.Add(diag.CategoryDegradedInput, "evaluator."+kind.String(), out.reason)
	return evaluator.Silent(kind, out.reason), true
}

func reasonLabel(reason string) string {
	if strings.HasPrefix(reason, "panic") {
		return "panic"
	}
	return "timeout"
}

func byKind(signals []evaluator.Signal) map[evaluator.Kind]evaluator.Signal {
	out := make(map[evaluator.Kind]evaluator.Signal, len(signals))
	for _, s := range signals {
		out[s.Kind] = s
	}
	return out
}
