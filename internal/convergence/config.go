package convergence

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid convergence configuration")

// MaxCyclesLimit is the hard upper bound on Config.MaxCycles.
const MaxCyclesLimit = 16

// Weights are the energy formula coefficients.
type Weights struct {
	Dissatisfaction float64 `koanf:"dissatisfaction"`
	Delta           float64 `koanf:"delta"`
	Unmet           float64 `koanf:"unmet"`
	Complexity      float64 `koanf:"complexity"`
}

// Config tunes the engine. Weights, band and epsilon are expected to be
// recalibrated per deployment.
type Config struct {
	MaxCycles        int           `koanf:"max_cycles"`
	BandMin          float64       `koanf:"band_min"`
	BandMax          float64       `koanf:"band_max"`
	Epsilon          float64       `koanf:"epsilon"`
	Lure             float64       `koanf:"lure"`
	EvaluatorTimeout time.Duration `koanf:"evaluator_timeout"`
	Weights          Weights       `koanf:"weights"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxCycles:        5,
		BandMin:          0.30,
		BandMax:          0.70,
		Epsilon:          0.02,
		Lure:             0.15,
		EvaluatorTimeout: 250 * time.Millisecond,
		Weights: Weights{
			Dissatisfaction: 0.35,
			Delta:           0.25,
			Unmet:           0.25,
			Complexity:      0.15,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxCycles < 1 || c.MaxCycles > MaxCyclesLimit {
		return fmt.Errorf("%w: max_cycles must be in [1,%d], got %d", ErrInvalidConfig, MaxCyclesLimit, c.MaxCycles)
	}
	if c.BandMin < 0 || c.BandMax > 1 || c.BandMin > c.BandMax {
		return fmt.Errorf("%w: band [%f,%f] must satisfy 0 <= min <= max <= 1", ErrInvalidConfig, c.BandMin, c.BandMax)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be positive", ErrInvalidConfig)
	}
	if c.Lure < 0 || c.Lure >= 1 {
		return fmt.Errorf("%w: lure must be in [0,1)", ErrInvalidConfig)
	}
	if c.EvaluatorTimeout <= 0 {
		return fmt.Errorf("%w: evaluator_timeout must be positive", ErrInvalidConfig)
	}
	w := c.Weights
	for name, v := range map[string]float64{
		"dissatisfaction": w.Dissatisfaction,
		"delta":           w.Delta,
		"unmet":           w.Unmet,
		"complexity":      w.Complexity,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weight %s must be non-negative", ErrInvalidConfig, name)
		}
	}
	if w.Dissatisfaction+w.Delta+w.Unmet+w.Complexity == 0 {
		return fmt.Errorf("%w: at least one energy weight must be positive", ErrInvalidConfig)
	}
	return nil
}
