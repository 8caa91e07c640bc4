package emission

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/generation"
)

const (
	component           = "emission"
	instrumentationName = "github.com/fyrsmithlabs/feltd/internal/emission"
	systemPrompt        = "You are a calm, attuned conversational companion. Never diagnose. Never lecture."
)

// Source names where emitted text came from.
type Source string

const (
	SourceTemplate         Source = "template"
	SourceTemplateJoin     Source = "template_join"
	SourceGenerator        Source = "generator"
	SourceSafeContinuation Source = "safe_continuation"
)

// Emission is the produced response. Confidence is the generator's, and is
// zero for text that did not come from the generator.
type Emission struct {
	Text       string   `json:"text"`
	Strategy   Strategy `json:"strategy"`
	Source     Source   `json:"source"`
	Confidence float64  `json:"confidence,omitempty"`
	Decision   Decision `json:"decision"`
}

// Emitter executes decisions.
type Emitter struct {
	gen     generation.Generator
	safe    string
	minConf float64
	logger  *zap.Logger
	tracer  trace.Tracer
	counts  metric.Int64Counter
}

// NewEmitter wires a generator. A nil generator is generation.Unavailable.
func NewEmitter(cfg Config, gen generation.Generator, logger *zap.Logger) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		gen = generation.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		gen:     gen,
		safe:    cfg.SafeContinuation,
		minConf: cfg.MinGeneratorConfidence,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
	var err error
	e.counts, err = otel.Meter(instrumentationName).Int64Counter(
		"feltd.emission.strategy_total",
		metric.WithDescription("Emissions produced, labeled by strategy and source"),
		metric.WithUnit("{emission}"),
	)
	if err != nil {
		logger.Warn("failed to create strategy counter", zap.Error(err))
	}
	return e, nil
}

// Emit produces text for d. It never fails: every path ends in some text,
// at worst the safe continuation.
func (e *Emitter) Emit(ctx context.Context, d Decision, userText string, tr *diag.Trace) Emission {
	ctx, span := e.tracer.Start(ctx, "emission.Emit",
		trace.WithAttributes(attribute.String("emission.strategy", d.Strategy.String())))
	defer span.End()

	for _, dm := range d.Demotions {
		tr.Add(diag.CategoryFallback, component, dm.From.String()+" -> "+dm.To.String()+": "+dm.Reason)
	}

	out := e.emit(ctx, d, userText, tr)
	span.SetAttributes(attribute.String("emission.source", string(out.Source)))
	if e.counts != nil {
		e.counts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", out.Strategy.String()),
			attribute.String("source", string(out.Source)),
		))
	}
	return out
}

func (e *Emitter) emit(ctx context.Context, d Decision, userText string, tr *diag.Trace) Emission {
	out := Emission{Strategy: d.Strategy, Decision: d}
	if d.Strategy != StrategyFallback && len(d.Templates) == 0 {
		out.Strategy = StrategyFallback
	}
	switch out.Strategy {
	case StrategyDirect:
		out.Text = d.Templates[0].Render(d.Guidance)
		out.Source = SourceTemplate
		return out

	case StrategyFusion:
		drafts := make([]string, len(d.Templates))
		for i, t := range d.Templates {
			drafts[i] = t.Render(d.Guidance)
		}
		if resp, ok := e.generate(ctx, generation.ModeFusion, d.Guidance.FusionPrompt(userText, drafts), tr); ok {
			out.Text, out.Source, out.Confidence = resp.Text, SourceGenerator, resp.Confidence
			return out
		}
		tr.Add(diag.CategoryFallback, component, "fusion answered from templates")
		out.Text, out.Source = strings.Join(drafts, " "), SourceTemplateJoin
		return out

	default:
		if resp, ok := e.generate(ctx, generation.ModeFallback, d.Guidance.Prompt(userText), tr); ok {
			out.Text, out.Source, out.Confidence = resp.Text, SourceGenerator, resp.Confidence
			return out
		}
		tr.Add(diag.CategoryFallback, component, "safe continuation")
		out.Text, out.Source = e.safe, SourceSafeContinuation
		return out
	}
}

func (e *Emitter) generate(ctx context.Context, mode generation.Mode, prompt string, tr *diag.Trace) (generation.Response, bool) {
	resp, err := e.gen.Generate(ctx, generation.Request{Mode: mode, System: systemPrompt, Prompt: prompt})
	if err != nil {
		tr.AddError(component, err)
		e.logger.Debug("generator unavailable", zap.String("generator", e.gen.Name()), zap.Error(err))
		return generation.Response{}, false
	}
	if resp.Confidence < e.minConf {
		tr.Add(diag.CategoryFallback, component,
			fmt.Sprintf("%s generation below confidence %.2f (got %.2f)", mode, e.minConf, resp.Confidence))
		return generation.Response{}, false
	}
	return resp, true
}
