package evaluator

import (
	"context"
	"errors"
)

// lexical is a lexicon-scored evaluator. When semantic is set it also
// compares the turn embedding against the kind's learned prototypes.
type lexical struct {
	kind     Kind
	lex      lexicon
	semantic bool
	cfg      Config
	extra    func(occasions []Occasion, s *Signal)
}

func (l *lexical) Kind() Kind { return l.kind }

func (l *lexical) Evaluate(ctx context.Context, occasions []Occasion, cycle int, c *Context) Signal {
	s := scan(occasions, l.lex).signal(l.kind, occasions)
	if l.extra != nil {
		l.extra(occasions, &s)
	}
	if l.semantic && len(occasions) > 0 {
		l.boost(ctx, &s, c)
	}
	return finish(s, cycle, c)
}

// boost raises activation toward the nearest prototype's similarity and
// merges the prototype's atom.
func (l *lexical) boost(ctx context.Context, s *Signal, c *Context) {
	if c == nil || c.Embedding == nil {
		degrade(s, c, "embedding unavailable")
		return
	}
	if c.Prototypes == nil {
		degrade(s, c, "prototype index unavailable")
		return
	}
	match, err := c.Prototypes.Nearest(ctx, l.kind, c.Embedding)
	if err != nil {
		if errors.Is(err, ErrNoPrototypes) {
			return
		}
		degrade(s, c, "prototype query failed: "+err.Error())
		return
	}
	if match.Similarity < l.cfg.SemanticFloor {
		return
	}
	gain := l.cfg.SemanticBoost * match.Similarity
	s.Activation += gain * (1 - s.Activation)
	if match.Atom != "" {
		if s.Atoms == nil {
			s.Atoms = make(map[string]float64)
		}
		if s.Atoms[match.Atom] < match.Similarity {
			s.Atoms[match.Atom] = match.Similarity
		}
	}
}

func newListening(cfg Config) Evaluator {
	return &lexical{
		kind:     KindListening,
		lex:      listeningLexicon,
		semantic: true,
		cfg:      cfg,
		extra: func(occasions []Occasion, s *Signal) {
			var questions float64
			for _, o := range occasions {
				if o.TrailingPunct == '?' {
					questions++
				}
			}
			if questions == 0 {
				return
			}
			s.Atoms["inquiry"] = saturate(questions)
			s.Activation += 0.2 * saturate(questions) * (1 - s.Activation)
		},
	}
}

func newEmpathy(cfg Config) Evaluator {
	return &lexical{kind: KindEmpathy, lex: empathyLexicon, semantic: true, cfg: cfg}
}

func newWisdom(cfg Config) Evaluator {
	return &lexical{kind: KindWisdom, lex: wisdomLexicon, semantic: true, cfg: cfg}
}

func newAuthenticity(cfg Config) Evaluator {
	return &lexical{kind: KindAuthenticity, lex: authenticityLexicon, cfg: cfg}
}
