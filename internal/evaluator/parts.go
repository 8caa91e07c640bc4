package evaluator

// partsPhrases are multi-word markers of parts language ("a part of me",
// "the little one inside"). Each entry is matched as a token sequence.
var partsPhrases = [][]string{
	{"part", "of", "me"},
	{"parts", "of", "me"},
	{"one", "inside"},
	{"inner", "child"},
	{"inner", "critic"},
}

func newBond(cfg Config) Evaluator {
	return &lexical{
		kind: KindBond,
		lex:  bondLexicon,
		cfg:  cfg,
		extra: func(occasions []Occasion, s *Signal) {
			n := countPhrases(occasions, partsPhrases)
			if n == 0 {
				return
			}
			strength := saturate(1.2 * float64(n))
			if strength > s.Atoms["parts"] {
				s.Atoms["parts"] = strength
			}
			s.Activation += strength * (1 - s.Activation) * 0.6
			s.Intensity += 0.2 * strength
		},
	}
}

func countPhrases(occasions []Occasion, phrases [][]string) int {
	n := 0
	for i := range occasions {
		for _, p := range phrases {
			if matchAt(occasions, i, p) {
				n++
			}
		}
	}
	return n
}

func matchAt(occasions []Occasion, i int, phrase []string) bool {
	if i+len(phrase) > len(occasions) {
		return false
	}
	for j, w := range phrase {
		if occasions[i+j].Lower != w {
			return false
		}
	}
	return true
}
