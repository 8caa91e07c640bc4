// Package turn runs one conversational turn end to end.
//
// Process tokenizes the text, snapshots the user's entity profiles, embeds
// the text, converges the evaluators, composes nexuses, learns from the
// converged signature, records the turn's entity mentions, selects a
// strategy and emits a response. Every collaborator failure degrades the
// turn and is appended to its diagnostic trace; only an invalid request
// returns an error.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/convergence"
	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/embeddings"
	"github.com/fyrsmithlabs/feltd/internal/emission"
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/learning"
	"github.com/fyrsmithlabs/feltd/internal/nexus"
	"github.com/fyrsmithlabs/feltd/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/feltd/internal/turn"

// maxTextBytes bounds a single turn's input.
const maxTextBytes = 16 << 10

// Errors returned by Process.
var (
	ErrEmptyUser       = errors.New("user id cannot be empty")
	ErrTextTooLong     = errors.New("turn text too long")
	ErrMissingPipeline = errors.New("processor is missing a required component")
)

// Request is one incoming turn.
type Request struct {
	UserID string `json:"user_id"`
	// TurnID is optional; a UUID is assigned when empty.
	TurnID string `json:"turn_id,omitempty"`
	Text   string `json:"text"`
}

// Response is everything one turn produced.
type Response struct {
	TurnID        string                `json:"turn_id"`
	UserID        string                `json:"user_id"`
	Text          string                `json:"text"`
	Strategy      emission.Strategy     `json:"strategy"`
	Source        emission.Source       `json:"source"`
	Energy        float64               `json:"energy"`
	Satisfaction  float64               `json:"satisfaction"`
	Cycles        int                   `json:"cycles"`
	Kairos        bool                  `json:"kairos"`
	State         convergence.State     `json:"state"`
	Zone          string                `json:"zone"`
	Autonomic     string                `json:"autonomic"`
	FamilyID      string                `json:"family_id,omitempty"`
	FamilyCreated bool                  `json:"family_created"`
	Nexuses       []nexus.Nexus         `json:"nexuses"`
	Signals       []evaluator.Signal    `json:"signals"`
	Entities      []emission.EntityNote `json:"entities,omitempty"`
	Demotions     []emission.Demotion   `json:"demotions,omitempty"`
	Diagnostics   []diag.Event          `json:"diagnostics,omitempty"`
	Duration      time.Duration         `json:"duration"`
}

// Components are the collaborators of a Processor. Embedder, Prototypes and
// Graph are optional.
type Components struct {
	Engine     *convergence.Engine
	Composer   *nexus.Composer
	Learning   *learning.Service
	Entities   *entity.Tracker
	Selector   *emission.Selector
	Emitter    *emission.Emitter
	Embedder   embeddings.Provider
	Prototypes *evaluator.Prototypes
	Graph      entity.GraphStore
}

// Processor runs turns. Safe for concurrent use.
type Processor struct {
	c      Components
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewProcessor checks that every required component is present.
func NewProcessor(c Components, logger *zap.Logger) (*Processor, error) {
	var missing []string
	if c.Engine == nil {
		missing = append(missing, "engine")
	}
	if c.Composer == nil {
		missing = append(missing, "composer")
	}
	if c.Learning == nil {
		missing = append(missing, "learning")
	}
	if c.Entities == nil {
		missing = append(missing, "entities")
	}
	if c.Selector == nil {
		missing = append(missing, "selector")
	}
	if c.Emitter == nil {
		missing = append(missing, "emitter")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingPipeline, strings.Join(missing, ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{c: c, logger: logger, tracer: otel.Tracer(instrumentationName), now: time.Now}, nil
}

// Process runs one turn.
func (p *Processor) Process(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Response{}, ErrEmptyUser
	}
	if err := sanitize.ValidateID(req.UserID); err != nil {
		return Response{}, fmt.Errorf("user id: %w", err)
	}
	if err := sanitize.ValidateOptionalID(req.TurnID); err != nil {
		return Response{}, fmt.Errorf("turn id: %w", err)
	}
	if len(req.Text) > maxTextBytes {
		return Response{}, fmt.Errorf("%w: %d bytes, max %d", ErrTextTooLong, len(req.Text), maxTextBytes)
	}
	req.Text = sanitize.Text(req.Text)
	turnID := req.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	start := p.now()

	ctx, span := p.tracer.Start(ctx, "turn.Process", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("turn.id", turnID),
	))
	defer span.End()

	tr := diag.NewTrace()
	occasions := evaluator.Tokenize(req.Text)
	if len(occasions) == 0 {
		tr.Add(diag.CategoryDegradedInput, "turn", "no occasions in input")
	}

	snapshot := p.c.Entities.Snapshot(req.UserID)
	base := evaluator.Context{
		TurnID:     turnID,
		UserID:     req.UserID,
		Text:       req.Text,
		Embedding:  p.embed(ctx, req.Text, tr),
		Entities:   snapshot,
		Graph:      p.c.Graph,
		Prototypes: p.c.Prototypes,
		Trace:      tr,
	}

	result := p.c.Engine.Converge(ctx, turnID, occasions, base)
	nexuses := p.c.Composer.Compose(result.SignalList(), result.Satisfaction)
	learned := p.c.Learning.Learn(ctx, result.Signature, result.Activations(), tr)
	notes := p.recordEntities(req.UserID, turnID, req.Text, result, tr)

	decision := p.c.Selector.Select(emission.Input{
		Nexuses:      nexuses,
		FamilyID:     learned.Family.FamilyID,
		Zone:         result.Signature.Zone.String(),
		Autonomic:    string(result.Signature.Autonomic),
		Energy:       result.Energy,
		Satisfaction: result.Satisfaction,
		Kairos:       result.KairosAchieved,
		Entities:     notes,
	})
	out := p.c.Emitter.Emit(ctx, decision, req.Text, tr)

	resp := Response{
		TurnID:        turnID,
		UserID:        req.UserID,
		Text:          out.Text,
		Strategy:      out.Strategy,
		Source:        out.Source,
		Energy:        result.Energy,
		Satisfaction:  result.Satisfaction,
		Cycles:        result.Cycles,
		Kairos:        result.KairosAchieved,
		State:         result.State,
		Zone:          result.Signature.Zone.String(),
		Autonomic:     string(result.Signature.Autonomic),
		FamilyID:      learned.Family.FamilyID,
		FamilyCreated: learned.Family.Created,
		Nexuses:       nexuses,
		Signals:       result.SignalList(),
		Entities:      notes,
		Demotions:     decision.Demotions,
		Diagnostics:   tr.Events(),
		Duration:      p.now().Sub(start),
	}

	span.SetAttributes(
		attribute.String("emission.strategy", resp.Strategy.String()),
		attribute.Int("convergence.cycles", resp.Cycles),
		attribute.Bool("convergence.kairos", resp.Kairos),
		attribute.Int("diag.events", len(resp.Diagnostics)),
	)
	p.logger.Info("turn processed",
		zap.String("user.id", req.UserID),
		zap.String("turn.id", turnID),
		zap.String("strategy", resp.Strategy.String()),
		zap.String("source", string(resp.Source)),
		zap.Int("cycles", resp.Cycles),
		zap.Bool("kairos", resp.Kairos),
		zap.String("family.id", resp.FamilyID),
		zap.Int("nexuses", len(nexuses)),
		zap.Int("diagnostics", len(resp.Diagnostics)),
		zap.Duration("duration", resp.Duration))
	return resp, nil
}

func (p *Processor) embed(ctx context.Context, text string, tr *diag.Trace) []float32 {
	if p.c.Embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := p.c.Embedder.Embed(ctx, text)
	if err != nil {
		tr.AddError("embeddings", err)
		return nil
	}
	return vec
}

// recordEntities folds this turn's mentions into the tracker after
// convergence and returns notes for the emitter, most familiar first.
func (p *Processor) recordEntities(userID, turnID, text string, result convergence.Result, tr *diag.Trace) []emission.EntityNote {
	mentions := entity.Extract(text)
	if len(mentions) == 0 {
		return nil
	}
	scalars := entity.Scalars{
		Urgency:      result.Signals[evaluator.KindUrgency].Activation,
		Autonomic:    result.Signature.Autonomic.Score(),
		CoreDistance: result.CoreDistance,
	}
	if err := p.c.Entities.RecordTurn(userID, turnID, mentions, result.ActivationSlots(), scalars); err != nil {
		tr.Add(diag.CategoryDegradedInput, "entity", err.Error())
		return nil
	}

	notes := make([]emission.EntityNote, 0, len(mentions))
	seen := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		if seen[m.Key] {
			continue
		}
		seen[m.Key] = true
		prof, err := p.c.Entities.Query(userID, m.Key)
		if err != nil {
			continue
		}
		notes = append(notes, emission.EntityNote{
			Key:         addressed(m.Surface),
			Type:        string(prof.Type),
			Familiarity: prof.Familiarity(),
			Mentions:    prof.MentionCount,
		})
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Familiarity > notes[j].Familiarity })
	return notes
}

// addressed turns the speaker's possessive into the listener's: "my mom"
// becomes "your mom".
func addressed(surface string) string {
	first, rest, ok := strings.Cut(surface, " ")
	if !ok {
		return surface
	}
	switch strings.ToLower(first) {
	case "my", "our":
		return "your " + rest
	}
	return surface
}
