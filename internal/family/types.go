package family

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// Errors returned by the pool.
var (
	ErrInvalidConfig   = errors.New("invalid family configuration")
	ErrAlreadyAssigned = errors.New("signature already assigned to a family")
	ErrInvalidRecord   = errors.New("invalid family record")
)

// idPrefix precedes the zero-padded sequence number in family ids.
const idPrefix = "family-"

// Config tunes the clusterer.
type Config struct {
	// Alpha is the centroid blend weight given to a joining signature.
	Alpha    float64  `koanf:"alpha"`
	Schedule Schedule `koanf:"schedule"`
	// RecentTurns bounds the turn-id memory that prevents reassignment.
	RecentTurns int `koanf:"recent_turns"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:       0.2,
		Schedule:    DefaultSchedule(),
		RecentTurns: 4096,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in (0,1], got %f", ErrInvalidConfig, c.Alpha)
	}
	if c.RecentTurns <= 0 {
		return fmt.Errorf("%w: recent_turns must be positive", ErrInvalidConfig)
	}
	return c.Schedule.Validate()
}

// Family is one self-discovered cluster of composite signatures.
type Family struct {
	ID                  string           `json:"id"`
	Centroid            signature.Vector `json:"centroid"`
	Members             int              `json:"members"`
	SatisfactionMean    float64          `json:"satisfaction_mean"`
	SatisfactionM2      float64          `json:"satisfaction_m2"`
	EnergyMean          float64          `json:"energy_mean"`
	ThresholdAtCreation float64          `json:"threshold_at_creation"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	LastTurnID          string           `json:"last_turn_id,omitempty"`
}

// SatisfactionVariance returns the sample variance of member satisfaction.
func (f *Family) SatisfactionVariance() float64 {
	if f.Members < 2 {
		return 0
	}
	return f.SatisfactionM2 / float64(f.Members-1)
}

// Clone returns a deep copy.
func (f *Family) Clone() Family {
	out := *f
	out.Centroid = f.Centroid.Clone()
	return out
}

// Validate checks a family loaded from persistence.
func (f *Family) Validate() error {
	if _, err := parseID(f.ID); err != nil {
		return err
	}
	if err := f.Centroid.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, f.ID, err)
	}
	if f.Members < 1 {
		return fmt.Errorf("%w: %s: members must be at least 1", ErrInvalidRecord, f.ID)
	}
	for name, v := range map[string]float64{
		"satisfaction_mean":     f.SatisfactionMean,
		"satisfaction_m2":       f.SatisfactionM2,
		"energy_mean":           f.EnergyMean,
		"threshold_at_creation": f.ThresholdAtCreation,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: %s is not finite", ErrInvalidRecord, f.ID, name)
		}
	}
	if f.SatisfactionM2 < 0 {
		return fmt.Errorf("%w: %s: negative satisfaction_m2", ErrInvalidRecord, f.ID)
	}
	return nil
}

func formatID(seq int) string {
	return fmt.Sprintf("%s%04d", idPrefix, seq)
}

func parseID(id string) (int, error) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: id %q lacks prefix %q", ErrInvalidRecord, id, idPrefix)
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq < 1 {
		return 0, fmt.Errorf("%w: id %q has no sequence number", ErrInvalidRecord, id)
	}
	return seq, nil
}

// FromRecord rebuilds a Family from a generically decoded record. The
// centroid is coerced through signature.Coerce before anything else.
func FromRecord(raw map[string]any) (Family, error) {
	if raw == nil {
		return Family{}, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	centroid, err := signature.Coerce(raw["centroid"])
	if err != nil {
		return Family{}, fmt.Errorf("%w: centroid: %w", ErrInvalidRecord, err)
	}
	f := Family{Centroid: centroid}
	f.ID, _ = raw["id"].(string)
	f.LastTurnID, _ = raw["last_turn_id"].(string)

	members, err := number(raw["members"])
	if err != nil {
		return Family{}, fmt.Errorf("%w: members: %w", ErrInvalidRecord, err)
	}
	f.Members = int(members)

	floats := map[string]*float64{
		"satisfaction_mean":     &f.SatisfactionMean,
		"satisfaction_m2":       &f.SatisfactionM2,
		"energy_mean":           &f.EnergyMean,
		"threshold_at_creation": &f.ThresholdAtCreation,
	}
	for key, dst := range floats {
		if raw[key] == nil {
			continue
		}
		v, err := number(raw[key])
		if err != nil {
			return Family{}, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, key, err)
		}
		*dst = v
	}
	for key, dst := range map[string]*time.Time{"created_at": &f.CreatedAt, "updated_at": &f.UpdatedAt} {
		if s, ok := raw[key].(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return Family{}, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, key, err)
			}
			*dst = ts
		}
	}
	return f, f.Validate()
}

// number reads a JSON-decoded numeric field. json.Number and numeric
// strings are accepted alongside native numbers.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, errors.New("missing")
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case interface{ Float64() (float64, error) }:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
