package convergence

import (
	"math"

	"github.com/fyrsmithlabs/feltd/internal/evaluator"
)

// neutralSatisfaction is used when fewer than two evaluators report.
const neutralSatisfaction = 0.5

// maxVariance is the largest variance of values in [0,1].
const maxVariance = 0.25

// Satisfaction returns 1 - var(activations)/0.25 over reporting signals.
func Satisfaction(signals []evaluator.Signal) float64 {
	var acts []float64
	for _, s := range signals {
		if s.Reported() {
			acts = append(acts, s.Activation)
		}
	}
	if len(acts) < 2 {
		return neutralSatisfaction
	}
	var mean float64
	for _, a := range acts {
		mean += a
	}
	mean /= float64(len(acts))
	var variance float64
	for _, a := range acts {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(acts))
	return clamp01(1 - variance/maxVariance)
}

// fieldMean is the mean activation of reporting signals.
func fieldMean(signals []evaluator.Signal) (float64, int) {
	var sum float64
	n := 0
	for _, s := range signals {
		if s.Reported() {
			sum += s.Activation
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// unmet measures relevance the field has not absorbed: relevance the
// evaluator is unsure of, plus the gap the lure has opened.
func unmet(signals []evaluator.Signal) float64 {
	var sum float64
	n := 0
	for _, s := range signals {
		if !s.Reported() {
			continue
		}
		sum += 0.5*s.Relevance*(1-s.Confidence) + 0.5*math.Abs(s.Relevance-s.Activation)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Complexity scores the input from its length and mean token length.
func Complexity(occasions []evaluator.Occasion) float64 {
	if len(occasions) == 0 {
		return 0
	}
	var chars int
	for _, o := range occasions {
		chars += o.Length
	}
	avg := float64(chars) / float64(len(occasions))
	return 0.6*math.Min(1, float64(len(occasions))/40) + 0.4*math.Min(1, avg/8)
}

// energy evaluates the weighted energy formula.
func energy(w Weights, prevSatisfaction, prevDelta, unmet, complexity float64) float64 {
	e := w.Dissatisfaction*(1-prevSatisfaction) +
		w.Delta*math.Abs(prevDelta) +
		w.Unmet*unmet +
		w.Complexity*complexity
	total := w.Dissatisfaction + w.Delta + w.Unmet + w.Complexity
	if total > 1 {
		e /= total
	}
	return clamp01(e)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
