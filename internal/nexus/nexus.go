// Package nexus finds coalitions of agreeing evaluators around shared atoms.
//
// For every atom any signal reports, the contributors are the evaluators
// whose activation reaches the floor and whose strength for that atom is
// positive. A nexus's confidence is
//
//	dC = 0.55*meanActivation + 0.25*min(1, contributors/3) + 0.20*S
//
// Candidates below MinConfidence are dropped. The rest are ordered by dC,
// then contributor count, then the mean historical coupling among the
// contributors, then atom name, so the order is fully deterministic.
// An empty result is a normal outcome.
package nexus

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/fyrsmithlabs/feltd/internal/evaluator"
)

// Confidence formula coefficients.
const (
	weightActivation   = 0.55
	weightContributors = 0.25
	weightCoherence    = 0.20
	contributorsFull   = 3
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid nexus configuration")

// Config tunes the composer.
type Config struct {
	ActivationFloor float64 `koanf:"activation_floor"`
	MinConfidence   float64 `koanf:"min_confidence"`
	// TopN caps the result; 0 means no cap.
	TopN int `koanf:"top_n"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{ActivationFloor: 0.2, MinConfidence: 0.3, TopN: 5}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ActivationFloor < 0 || c.ActivationFloor > 1 {
		return fmt.Errorf("%w: activation_floor must be in [0,1]", ErrInvalidConfig)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0,1]", ErrInvalidConfig)
	}
	if c.TopN < 0 {
		return fmt.Errorf("%w: top_n must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// Support references one contributing signal.
type Support struct {
	Kind         evaluator.Kind `json:"kind"`
	Activation   float64        `json:"activation"`
	AtomStrength float64        `json:"atom_strength"`
}

// Nexus is a coalition of evaluators agreeing on one atom.
type Nexus struct {
	Atom           string           `json:"atom"`
	Contributors   []evaluator.Kind `json:"contributors"`
	Confidence     float64          `json:"confidence"`
	MeanActivation float64          `json:"mean_activation"`
	Coupling       float64          `json:"coupling"`
	Support        []Support        `json:"support"`
}

// CouplingReader reads learned pairwise coupling.
type CouplingReader interface {
	Coupling(a, b evaluator.Kind) float64
}

// Composer builds nexuses. It holds no mutable state.
type Composer struct {
	cfg      Config
	coupling CouplingReader
}

// NewComposer creates a composer. coupling may be nil, in which case the
// coupling tie-break treats every pair as 0.
func NewComposer(cfg Config, coupling CouplingReader) (*Composer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Composer{cfg: cfg, coupling: coupling}, nil
}

// Compose returns the nexuses for one turn's final signals and field
// satisfaction.
func (c *Composer) Compose(signals []evaluator.Signal, satisfaction float64) []Nexus {
	byAtom := make(map[string][]Support)
	for _, s := range signals {
		if s.Activation < c.cfg.ActivationFloor {
			continue
		}
		for atom, strength := range s.Atoms {
			if strength <= 0 {
				continue
			}
			byAtom[atom] = append(byAtom[atom], Support{
				Kind:         s.Kind,
				Activation:   s.Activation,
				AtomStrength: strength,
			})
		}
	}

	var out []Nexus
	for atom, support := range byAtom {
		sort.Slice(support, func(i, j int) bool { return support[i].Kind < support[j].Kind })

		kinds := make([]evaluator.Kind, len(support))
		var sum float64
		for i, sp := range support {
			kinds[i] = sp.Kind
			sum += sp.Activation
		}
		mean := sum / float64(len(support))
		dc := weightActivation*mean +
			weightContributors*math.Min(1, float64(len(support))/contributorsFull) +
			weightCoherence*satisfaction
		if dc < c.cfg.MinConfidence {
			continue
		}
		out = append(out, Nexus{
			Atom:           atom,
			Contributors:   kinds,
			Confidence:     dc,
			MeanActivation: mean,
			Coupling:       c.meanCoupling(kinds),
			Support:        support,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if len(a.Contributors) != len(b.Contributors) {
			return len(a.Contributors) > len(b.Contributors)
		}
		if a.Coupling != b.Coupling {
			return a.Coupling > b.Coupling
		}
		return a.Atom < b.Atom
	})

	if c.cfg.TopN > 0 && len(out) > c.cfg.TopN {
		out = out[:c.cfg.TopN]
	}
	return out
}

// meanCoupling is the mean learned coupling over every contributor pair.
func (c *Composer) meanCoupling(kinds []evaluator.Kind) float64 {
	if c.coupling == nil || len(kinds) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(kinds); i++ {
		for j := i + 1; j < len(kinds); j++ {
			sum += c.coupling.Coupling(kinds[i], kinds[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// Top returns the highest-confidence nexus, if any.
func Top(nexuses []Nexus) (Nexus, bool) {
	if len(nexuses) == 0 {
		return Nexus{}, false
	}
	return nexuses[0], true
}
