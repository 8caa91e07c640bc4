// Package coupling holds the learned pairwise evaluator coupling matrix.
//
// The matrix is symmetric with an unused zero diagonal. After every turn,
// each pair of evaluators whose activations both reach the floor gains
// rate*a_i*a_j*S, clamped to Config.Clamp. The rate is deliberately small:
// a large rate drives every entry to the same value and the matrix stops
// discriminating. Std reports the spread of the off-diagonal entries and the
// store warns once the spread stays below Config.SaturationStd for
// Config.SaturationTurns consecutive turns.
package coupling

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// N is the matrix size.
const N = signature.EvaluatorSlots

// symmetryTolerance bounds |m[i][j]-m[j][i]| accepted on restore.
const symmetryTolerance = 1e-9

// Errors returned by the store.
var (
	ErrInvalidConfig   = errors.New("invalid coupling configuration")
	ErrInvalidSnapshot = errors.New("invalid coupling snapshot")
)

// Config tunes the store.
type Config struct {
	LearningRate      float64 `koanf:"learning_rate"`
	ActivationFloor   float64 `koanf:"activation_floor"`
	Clamp             float64 `koanf:"clamp"`
	SaturationStd     float64 `koanf:"saturation_std"`
	SaturationMinMean float64 `koanf:"saturation_min_mean"`
	SaturationTurns   int     `koanf:"saturation_turns"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate:      0.005,
		ActivationFloor:   0.2,
		Clamp:             1.0,
		SaturationStd:     0.08,
		SaturationMinMean: 0.05,
		SaturationTurns:   5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("%w: learning_rate must be in (0,1]", ErrInvalidConfig)
	}
	if c.ActivationFloor < 0 || c.ActivationFloor > 1 {
		return fmt.Errorf("%w: activation_floor must be in [0,1]", ErrInvalidConfig)
	}
	if c.Clamp <= 0 {
		return fmt.Errorf("%w: clamp must be positive", ErrInvalidConfig)
	}
	if c.SaturationStd < 0 || c.SaturationMinMean < 0 {
		return fmt.Errorf("%w: saturation thresholds must be non-negative", ErrInvalidConfig)
	}
	if c.SaturationTurns < 1 {
		return fmt.Errorf("%w: saturation_turns must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Matrix           [][]float64 `json:"matrix"`
	Turns            uint64      `json:"turns"`
	SaturationStreak int         `json:"saturation_streak"`
}

// Store is the coupling matrix. Safe for concurrent use.
type Store struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	m         [N][N]float64
	turns     uint64
	streak    int
	saturated bool
}

// NewStore creates a zero matrix.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, logger: logger}, nil
}

// Update applies one turn's co-activation. It returns the number of pairs
// that changed.
func (s *Store) Update(activations map[evaluator.Kind]float64, satisfaction float64) int {
	satisfaction = math.Max(0, math.Min(1, satisfaction))

	var active []evaluator.Kind
	for _, k := range evaluator.Kinds() {
		if a, ok := activations[k]; ok && a >= s.cfg.ActivationFloor {
			active = append(active, k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for x := 0; x < len(active); x++ {
		for y := x + 1; y < len(active); y++ {
			i, j := active[x].Index(), active[y].Index()
			inc := s.cfg.LearningRate * activations[active[x]] * activations[active[y]] * satisfaction
			if inc <= 0 {
				continue
			}
			v := math.Min(s.cfg.Clamp, s.m[i][j]+inc)
			s.m[i][j] = v
			s.m[j][i] = v
			updated++
		}
	}
	s.turns++
	s.checkSaturation()
	return updated
}

// checkSaturation updates the low-spread streak. Caller holds s.mu.
func (s *Store) checkSaturation() {
	std, mean := s.stats()
	if std < s.cfg.SaturationStd && mean >= s.cfg.SaturationMinMean {
		s.streak++
	} else {
		s.streak = 0
		s.saturated = false
	}
	if s.streak >= s.cfg.SaturationTurns && !s.saturated {
		s.saturated = true
		s.logger.Warn("coupling matrix saturated, learning rate may be too high",
			zap.Float64("std", std),
			zap.Float64("mean", mean),
			zap.Int("consecutive_turns", s.streak),
			zap.Float64("learning_rate", s.cfg.LearningRate))
	}
}

// stats returns std and mean of the upper triangle. Caller holds s.mu.
func (s *Store) stats() (std, mean float64) {
	const pairs = N * (N - 1) / 2
	var sum float64
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			sum += s.m[i][j]
		}
	}
	mean = sum / pairs
	var variance float64
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			d := s.m[i][j] - mean
			variance += d * d
		}
	}
	return math.Sqrt(variance / pairs), mean
}

// Coupling returns the learned strength between a and b; 0 on the diagonal
// or for invalid kinds.
func (s *Store) Coupling(a, b evaluator.Kind) float64 {
	if !a.Valid() || !b.Valid() || a == b {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[a.Index()][b.Index()]
}

// Std returns the standard deviation of the off-diagonal entries.
func (s *Store) Std() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	std, _ := s.stats()
	return std
}

// Mean returns the mean of the off-diagonal entries.
func (s *Store) Mean() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, mean := s.stats()
	return mean
}

// Saturated reports whether the spread has stayed low for
// Config.SaturationTurns consecutive turns.
func (s *Store) Saturated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saturated
}

// Turns returns how many updates the store has absorbed.
func (s *Store) Turns() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns
}

// Snapshot returns a deep copy for persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make([][]float64, N)
	for i := range m {
		m[i] = append([]float64(nil), s.m[i][:]...)
	}
	return Snapshot{Matrix: m, Turns: s.turns, SaturationStreak: s.streak}
}

// Validate checks a snapshot loaded from persistence.
func (snap Snapshot) Validate(clamp float64) error {
	if len(snap.Matrix) != N {
		return fmt.Errorf("%w: %d rows, want %d", ErrInvalidSnapshot, len(snap.Matrix), N)
	}
	for i, row := range snap.Matrix {
		if len(row) != N {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidSnapshot, i, len(row), N)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > clamp {
				return fmt.Errorf("%w: entry [%d][%d] = %v out of range", ErrInvalidSnapshot, i, j, v)
			}
		}
		if row[i] != 0 {
			return fmt.Errorf("%w: diagonal [%d][%d] must be 0", ErrInvalidSnapshot, i, i)
		}
	}
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			if math.Abs(snap.Matrix[i][j]-snap.Matrix[j][i]) > symmetryTolerance {
				return fmt.Errorf("%w: asymmetric at [%d][%d]", ErrInvalidSnapshot, i, j)
			}
		}
	}
	if snap.SaturationStreak < 0 {
		return fmt.Errorf("%w: negative saturation streak", ErrInvalidSnapshot)
	}
	return nil
}

// Restore replaces the matrix with a validated snapshot.
func (s *Store) Restore(snap Snapshot) error {
	if err := snap.Validate(s.cfg.Clamp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			s.m[i][j] = snap.Matrix[i][j]
		}
	}
	// Average away any float drift so the stored matrix is exactly symmetric.
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			v := (s.m[i][j] + s.m[j][i]) / 2
			s.m[i][j], s.m[j][i] = v, v
		}
	}
	s.turns = snap.Turns
	s.streak = snap.SaturationStreak
	s.saturated = s.streak >= s.cfg.SaturationTurns
	return nil
}
