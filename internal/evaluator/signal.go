package evaluator

import (
	"context"
	"math"
	"sort"

	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/entity"
)

// DegradedPenalty is subtracted from confidence when an optional
// collaborator could not be consulted.
const DegradedPenalty = 0.25

// Signal is one evaluator's output for one cycle.
type Signal struct {
	Kind       Kind               `json:"kind"`
	Activation float64            `json:"activation"`
	Intensity  float64            `json:"intensity"`
	Polarity   float64            `json:"polarity"`
	Confidence float64            `json:"confidence"`
	Relevance  float64            `json:"relevance"`
	Atoms      map[string]float64 `json:"atoms,omitempty"`
	// Label carries a categorical reading, currently the autonomic state.
	Label    string `json:"label,omitempty"`
	Degraded string `json:"degraded,omitempty"`
}

// Reported reports whether the evaluator had anything to say this cycle.
func (s Signal) Reported() bool { return s.Confidence > 0 }

// TopAtoms returns the signal's atoms ordered by strength, then name.
func (s Signal) TopAtoms() []string {
	names := make([]string, 0, len(s.Atoms))
	for a := range s.Atoms {
		names = append(names, a)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.Atoms[names[i]] != s.Atoms[names[j]] {
			return s.Atoms[names[i]] > s.Atoms[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Context is the read-only state shared by every evaluator in a turn. The
// engine refreshes Previous and FieldMean between cycles; within a cycle no
// field is written.
type Context struct {
	TurnID string
	UserID string
	Text   string

	// Embedding of Text, nil when the embedding provider was unavailable.
	Embedding []float32

	// Entities is the user's tracker state as of the start of the turn.
	Entities *entity.Snapshot
	// Graph is the optional relationship store.
	Graph entity.GraphStore

	Prototypes *Prototypes
	Trace      *diag.Trace

	// Lure is the pull toward the previous field mean on cycles > 0.
	Lure      float64
	FieldMean float64
	Previous  map[Kind]Signal
}

// Evaluator produces a signal from the turn's occasions.
type Evaluator interface {
	Kind() Kind
	Evaluate(ctx context.Context, occasions []Occasion, cycle int, c *Context) Signal
}

// saturate maps a non-negative hit count onto [0,1).
func saturate(hits float64) float64 {
	if hits <= 0 {
		return 0
	}
	return 1 - math.Exp(-hits/1.5)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

func clampPolarity(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < -1:
		return -1
	case x > 1:
		return 1
	default:
		return x
	}
}

// lure blends a raw activation toward the previous field mean.
func lure(raw float64, cycle int, c *Context) float64 {
	if cycle == 0 || c == nil || c.Lure <= 0 {
		return raw
	}
	return (1-c.Lure)*raw + c.Lure*c.FieldMean
}

// baseConfidence grows with input length: a couple of words say little.
func baseConfidence(occasions []Occasion) float64 {
	if len(occasions) == 0 {
		return 0
	}
	return 0.5 + 0.5*math.Min(1, float64(len(occasions))/12)
}

// finish applies the lure and clamps every field.
func finish(s Signal, cycle int, c *Context) Signal {
	s.Relevance = clamp01(s.Activation)
	s.Activation = clamp01(lure(s.Relevance, cycle, c))
	s.Intensity = clamp01(s.Intensity)
	s.Polarity = clampPolarity(s.Polarity)
	s.Confidence = clamp01(s.Confidence)
	for a, v := range s.Atoms {
		if v <= 0 {
			delete(s.Atoms, a)
			continue
		}
		s.Atoms[a] = clamp01(v)
	}
	return s
}

// degrade lowers confidence and records why.
func degrade(s *Signal, c *Context, reason string) {
	s.Confidence -= DegradedPenalty
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	s.Degraded = reason
	if c != nil {
		c.Trace.Add(diag.CategoryExternalUnavailable, "evaluator."+s.Kind.String(), reason)
	}
}

// Silent is the zero-confidence signal substituted for a failed evaluator.
func Silent(k Kind, reason string) Signal {
	return Signal{Kind: k, Degraded: reason}
}
