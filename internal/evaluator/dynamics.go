package evaluator

import (
	"context"
	"math"
	"strings"
	"unicode"
)

func newUrgency(cfg Config) Evaluator {
	return &lexical{
		kind: KindUrgency,
		lex:  urgencyLexicon,
		cfg:  cfg,
		extra: func(occasions []Occasion, s *Signal) {
			var shouts float64
			for _, o := range occasions {
				if o.TrailingPunct == '!' {
					shouts++
				}
				if o.Length > 2 && strings.ToUpper(o.Token) == o.Token && hasLetter(o.Token) {
					shouts++
				}
			}
			if shouts == 0 {
				return
			}
			boost := saturate(0.5 * shouts)
			s.Activation += 0.4 * boost * (1 - s.Activation)
			s.Intensity += 0.3 * boost
			if boost > s.Atoms["urgency"] {
				s.Atoms["urgency"] = boost
			}
		},
	}
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// rhythmEvaluator reads sentence shape: length irregularity, fragmenting and
// repeated words.
type rhythmEvaluator struct{}

func (rhythmEvaluator) Kind() Kind { return KindRhythm }

func (rhythmEvaluator) Evaluate(_ context.Context, occasions []Occasion, cycle int, c *Context) Signal {
	s := Signal{Kind: KindRhythm, Atoms: make(map[string]float64)}
	if len(occasions) == 0 {
		return finish(s, cycle, c)
	}

	sents := sentences(occasions)
	lengths := make([]float64, len(sents))
	var mean float64
	fragments := 0
	for i, sent := range sents {
		lengths[i] = float64(len(sent))
		mean += lengths[i]
		if len(sent) <= 4 {
			fragments++
		}
	}
	mean /= float64(len(lengths))
	var variance float64
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(lengths))
	cv := 0.0
	if mean > 0 {
		cv = math.Sqrt(variance) / mean
	}
	fragFrac := float64(fragments) / float64(len(sents))
	if len(sents) == 1 {
		// A single short utterance is not fragmented speech.
		fragFrac = 0
	}

	counts := make(map[string]int)
	var repeats float64
	for _, o := range occasions {
		if o.Length <= 3 {
			continue
		}
		counts[o.Lower]++
		if counts[o.Lower] == 2 {
			repeats++
		}
	}

	s.Activation = saturate(1.5*cv + 1.5*fragFrac + 0.6*repeats)
	s.Intensity = saturate(2 * cv)
	s.Polarity = -fragFrac
	s.Confidence = baseConfidence(occasions)
	if len(sents) < 2 {
		s.Confidence *= 0.6
	}
	s.Atoms["fragmented"] = fragFrac
	s.Atoms["recurrence"] = saturate(0.8 * repeats)
	if mean > 25 {
		s.Atoms["overwhelm"] = saturate((mean - 25) / 10)
	}
	return finish(s, cycle, c)
}

// scalingEvaluator sizes the eventual reply from input length and questions.
type scalingEvaluator struct{}

func (scalingEvaluator) Kind() Kind { return KindScaling }

func (scalingEvaluator) Evaluate(_ context.Context, occasions []Occasion, cycle int, c *Context) Signal {
	s := Signal{Kind: KindScaling, Atoms: make(map[string]float64)}
	n := float64(len(occasions))
	if n == 0 {
		return finish(s, cycle, c)
	}
	var questions float64
	for _, o := range occasions {
		if o.TrailingPunct == '?' {
			questions++
		}
	}

	s.Activation = saturate(n/25 + 0.7*questions)
	s.Intensity = saturate(n / 60)
	s.Confidence = baseConfidence(occasions)
	switch {
	case n < 6:
		s.Atoms["brevity"] = 1 - n/6
	case n > 40:
		s.Atoms["depth"] = saturate((n - 40) / 20)
	}
	if questions > 0 {
		s.Atoms["inquiry"] = saturate(questions)
	}
	return finish(s, cycle, c)
}
