package convergence

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// State is a convergence state machine state.
type State int

const (
	StateInitializing State = iota
	StateRefining
	StateConverged
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRefining:
		return "refining"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateExhausted
}

// CycleRecord is one entry of the per-cycle trajectory.
type CycleRecord struct {
	Cycle        int           `json:"cycle"`
	State        State         `json:"state"`
	Energy       float64       `json:"energy"`
	Satisfaction float64       `json:"satisfaction"`
	DeltaE       float64       `json:"delta_e"`
	FieldMean    float64       `json:"field_mean"`
	Reporting    int           `json:"reporting"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"duration"`
}

// Result is the outcome of one turn's convergence.
type Result struct {
	Signature      signature.Composite                 `json:"signature"`
	Energy         float64                             `json:"energy"`
	Satisfaction   float64                             `json:"satisfaction"`
	Cycles         int                                 `json:"cycles"`
	KairosAchieved bool                                `json:"kairos_achieved"`
	State          State                               `json:"state"`
	Trajectory     []CycleRecord                       `json:"trajectory"`
	Signals        map[evaluator.Kind]evaluator.Signal `json:"signals"`
	CoreDistance   float64                             `json:"core_distance"`
}

// Activations returns the final activation of every reporting evaluator.
func (r Result) Activations() map[evaluator.Kind]float64 {
	out := make(map[evaluator.Kind]float64, len(r.Signals))
	for k, s := range r.Signals {
		if s.Reported() {
			out[k] = s.Activation
		}
	}
	return out
}

// ActivationSlots returns activations indexed by evaluator slot; missing or
// silent evaluators read 0.
func (r Result) ActivationSlots() []float64 {
	out := make([]float64, signature.EvaluatorSlots)
	for k, s := range r.Signals {
		if k.Valid() {
			out[k.Index()] = s.Activation
		}
	}
	return out
}

// SignalList returns the final signals in slot order.
func (r Result) SignalList() []evaluator.Signal {
	out := make([]evaluator.Signal, 0, len(r.Signals))
	for _, k := range evaluator.Kinds() {
		if s, ok := r.Signals[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// coreDistance estimates how far the field sits from core: threat and
// dysregulation push it out, as do disagreement and negative affect.
func coreDistance(signals map[evaluator.Kind]evaluator.Signal, satisfaction float64) float64 {
	var threat, dysregulation float64
	if s, ok := signals[evaluator.KindSafety]; ok && s.Reported() {
		threat = s.Activation * math.Max(0, -s.Polarity)
	}
	if s, ok := signals[evaluator.KindAutonomic]; ok && s.Reported() {
		dysregulation = s.Intensity
	}
	var neg float64
	n := 0
	for _, s := range signals {
		if s.Reported() {
			neg += s.Activation * math.Max(0, -s.Polarity)
			n++
		}
	}
	if n > 0 {
		neg /= float64(n)
	}
	return clamp01(0.35*threat + 0.35*dysregulation + 0.15*(1-satisfaction) + 0.15*neg*2)
}

func autonomicState(signals map[evaluator.Kind]evaluator.Signal) signature.Autonomic {
	s, ok := signals[evaluator.KindAutonomic]
	if !ok || !s.Reported() {
		return signature.AutonomicVentral
	}
	switch a := signature.Autonomic(s.Label); a {
	case signature.AutonomicSympathetic, signature.AutonomicDorsal:
		return a
	default:
		return signature.AutonomicVentral
	}
}

// compose builds the composite signature from the final signals.
func compose(turnID string, signals map[evaluator.Kind]evaluator.Signal, e, s float64, cycles, maxCycles int, kairos bool, dist float64, now time.Time) signature.Composite {
	vec := signature.NewVector()
	for k, sig := range signals {
		if !k.Valid() {
			continue
		}
		base := k.Index() * signature.FeaturesPerEvaluator
		vec[base] = sig.Activation
		vec[base+1] = sig.Intensity
		vec[base+2] = sig.Polarity
		vec[base+3] = sig.Confidence
	}
	vec[signature.OffsetEnergy] = e
	vec[signature.OffsetSatisfaction] = s
	vec[signature.OffsetCycles] = float64(cycles) / float64(maxCycles)
	if kairos {
		vec[signature.OffsetKairos] = 1
	}
	zone := signature.ZoneFromDistance(dist)
	vec[signature.OffsetZone+int(zone)-1] = 1
	auto := autonomicState(signals)
	vec[signature.OffsetAutonomic+auto.Index()] = 1

	return signature.Composite{
		Version:      signature.SchemaVersion,
		TurnID:       turnID,
		Vector:       vec,
		Energy:       e,
		Satisfaction: s,
		Zone:         zone,
		Autonomic:    auto,
		CreatedAt:    now,
	}
}
