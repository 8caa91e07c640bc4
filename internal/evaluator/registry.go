package evaluator

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid evaluator configuration")

// Config tunes the evaluators.
type Config struct {
	// SemanticBoost scales how far a prototype match pulls activation up.
	SemanticBoost float64 `koanf:"semantic_boost"`
	// SemanticFloor is the minimum prototype similarity that counts.
	SemanticFloor float64 `koanf:"semantic_floor"`
	// GraphTimeout bounds the entity-memory graph query.
	GraphTimeout time.Duration `koanf:"graph_timeout"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		SemanticBoost: 0.35,
		SemanticFloor: 0.45,
		GraphTimeout:  150 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SemanticBoost < 0 || c.SemanticBoost > 1 {
		return fmt.Errorf("%w: semantic_boost must be in [0,1]", ErrInvalidConfig)
	}
	if c.SemanticFloor < 0 || c.SemanticFloor > 1 {
		return fmt.Errorf("%w: semantic_floor must be in [0,1]", ErrInvalidConfig)
	}
	if c.GraphTimeout <= 0 {
		return fmt.Errorf("%w: graph_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// New returns all twelve evaluators in slot order.
func New(cfg Config) []Evaluator {
	return []Evaluator{
		newListening(cfg),
		newEmpathy(cfg),
		newWisdom(cfg),
		newAuthenticity(cfg),
		newPresence(cfg),
		newBond(cfg),
		newSafety(cfg),
		newUrgency(cfg),
		rhythmEvaluator{},
		autonomicEvaluator{},
		&memoryEvaluator{cfg: cfg},
		scalingEvaluator{},
	}
}
