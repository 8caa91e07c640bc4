package evaluator

import (
	"context"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

func newPresence(cfg Config) Evaluator {
	return &lexical{kind: KindPresence, lex: presenceLexicon, cfg: cfg}
}

func newSafety(cfg Config) Evaluator {
	return &lexical{kind: KindSafety, lex: safetyLexicon, cfg: cfg}
}

// autonomicEvaluator reads which autonomic state dominates the input and
// reports it in Signal.Label.
type autonomicEvaluator struct{}

func (autonomicEvaluator) Kind() Kind { return KindAutonomic }

func (autonomicEvaluator) Evaluate(_ context.Context, occasions []Occasion, cycle int, c *Context) Signal {
	sym := scan(occasions, sympatheticLexicon)
	dor := scan(occasions, dorsalLexicon)
	ven := scan(occasions, ventralLexicon)

	label := signature.AutonomicVentral
	switch {
	case dor.hits > sym.hits && dor.hits > ven.hits:
		label = signature.AutonomicDorsal
	case sym.hits > ven.hits && sym.hits >= dor.hits:
		label = signature.AutonomicSympathetic
	}

	atoms := make(map[string]float64)
	for _, part := range []lexScore{sym, dor, ven} {
		for a, v := range part.atoms {
			if v > atoms[a] {
				atoms[a] = v
			}
		}
	}

	total := sym.hits + dor.hits + ven.hits
	var polarity float64
	if total > 0 {
		polarity = (ven.hits - sym.hits - dor.hits) / total
	}
	dysregulation := saturate(sym.hits + dor.hits)

	s := Signal{
		Kind:       KindAutonomic,
		Activation: saturate(total),
		Intensity:  dysregulation,
		Polarity:   polarity,
		Confidence: baseConfidence(occasions),
		Atoms:      atoms,
		Label:      string(label),
	}
	return finish(s, cycle, c)
}
