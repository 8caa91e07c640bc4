package evaluator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/feltd/internal/entity"
)

// memoryEvaluator recalls entities the user has mentioned before. It reads
// only the start-of-turn snapshot, so a turn never recalls itself.
type memoryEvaluator struct {
	cfg Config
}

func (m *memoryEvaluator) Kind() Kind { return KindMemory }

func (m *memoryEvaluator) Evaluate(ctx context.Context, occasions []Occasion, cycle int, c *Context) Signal {
	s := Signal{Kind: KindMemory, Atoms: make(map[string]float64)}
	if len(occasions) == 0 {
		return finish(s, cycle, c)
	}
	s.Confidence = baseConfidence(occasions)

	text := joinText(occasions)
	var snap *entity.Snapshot
	if c != nil {
		snap = c.Entities
		if c.Text != "" {
			text = c.Text
		}
	}

	mentions := entity.Extract(text)
	if len(mentions) == 0 {
		s.Confidence *= 0.5
		return finish(s, cycle, c)
	}

	var hits, polSum, polWeight float64
	var known []string
	seen := make(map[string]bool)
	for _, mention := range mentions {
		key := entity.NormalizeKey(mention.Key)
		if seen[key] {
			continue
		}
		seen[key] = true

		prof, ok := snap.Lookup(key)
		if !ok {
			hits += 0.3
			s.Atoms["new_entity"] += 0.3
			continue
		}
		known = append(known, key)
		fam := prof.Familiarity()
		w := 0.5 + fam
		hits += w
		s.Atoms["familiar"] += w
		if prof.Type == entity.TypePerson {
			s.Atoms["attachment"] += 0.5 * w
		}
		if prof.Urgency > 0.5 {
			s.Atoms["urgency"] += prof.Urgency
		}
		if prof.Autonomic > 0.5 {
			s.Atoms["threat"] += prof.Autonomic - 0.5
		}
		// Ventral history reads positive, dorsal negative.
		polSum += (1 - 2*prof.Autonomic) * w
		polWeight += w
		if fam > s.Intensity {
			s.Intensity = fam
		}
	}

	if len(known) > 0 && c != nil && c.Graph != nil {
		hits += m.related(ctx, &s, c, known[0], snap)
	}

	for a, v := range s.Atoms {
		s.Atoms[a] = saturate(v)
	}
	s.Activation = saturate(hits)
	if polWeight > 0 {
		s.Polarity = polSum / polWeight
	}
	return finish(s, cycle, c)
}

// related asks the graph store for keys related to key under a bounded
// timeout. Related keys the user has already mentioned add recall weight.
func (m *memoryEvaluator) related(ctx context.Context, s *Signal, c *Context, key string, snap *entity.Snapshot) float64 {
	gctx, cancel := context.WithTimeout(ctx, m.cfg.GraphTimeout)
	defer cancel()

	keys, err := c.Graph.Related(gctx, c.UserID, key)
	if err != nil {
		degrade(s, c, fmt.Sprintf("graph store unavailable: %v", err))
		return 0
	}
	var extra float64
	for _, k := range keys {
		if _, ok := snap.Lookup(k); ok {
			extra += 0.25
			s.Atoms["connection"] += 0.25
		}
	}
	return extra
}
