package signature

import (
	"fmt"
	"math"
	"time"
)

// Zone classifies how far the felt state sits from core/self energy.
// Zone 1 is closest to core, zone 5 furthest.
type Zone int

const (
	ZoneCore Zone = iota + 1
	ZoneRelational
	ZoneThreshold
	ZoneShadow
	ZoneExile
)

// String returns the zone name.
func (z Zone) String() string {
	switch z {
	case ZoneCore:
		return "core"
	case ZoneRelational:
		return "relational"
	case ZoneThreshold:
		return "threshold"
	case ZoneShadow:
		return "shadow"
	case ZoneExile:
		return "exile"
	default:
		return "unknown"
	}
}

// ZoneFromDistance maps a distance-from-core in [0,1] onto a zone.
func ZoneFromDistance(d float64) Zone {
	switch {
	case d < 0.2:
		return ZoneCore
	case d < 0.4:
		return ZoneRelational
	case d < 0.6:
		return ZoneThreshold
	case d < 0.8:
		return ZoneShadow
	default:
		return ZoneExile
	}
}

// Autonomic is the autonomic-state classification of a turn.
type Autonomic string

const (
	AutonomicVentral     Autonomic = "ventral"
	AutonomicSympathetic Autonomic = "sympathetic"
	AutonomicDorsal      Autonomic = "dorsal"
)

// Index returns the one-hot slot for a, defaulting to ventral.
func (a Autonomic) Index() int {
	switch a {
	case AutonomicSympathetic:
		return 1
	case AutonomicDorsal:
		return 2
	default:
		return 0
	}
}

// Score maps the state onto [0,1] for EMA tracking: ventral 0, sympathetic
// 0.5, dorsal 1.
func (a Autonomic) Score() float64 {
	return float64(a.Index()) / 2
}

// Composite is the immutable summary of one converged turn.
type Composite struct {
	Version      int       `json:"version"`
	TurnID       string    `json:"turn_id"`
	Vector       Vector    `json:"vector"`
	Energy       float64   `json:"energy"`
	Satisfaction float64   `json:"satisfaction"`
	Zone         Zone      `json:"zone"`
	Autonomic    Autonomic `json:"autonomic"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the version, the vector and the energy and satisfaction
// scalars, which must all be finite.
func (c Composite) Validate() error {
	if c.Version != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrInvalidSignature, c.Version, SchemaVersion)
	}
	if !finite(c.Energy) {
		return fmt.Errorf("%w: energy is not finite", ErrInvalidSignature)
	}
	if !finite(c.Satisfaction) {
		return fmt.Errorf("%w: satisfaction is not finite", ErrInvalidSignature)
	}
	return c.Vector.Validate()
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// FromRecord rebuilds a Composite from a generically decoded record, such as
// a map produced by json.Unmarshal into map[string]any. The vector field is
// coerced before anything else is read.
func FromRecord(raw map[string]any) (Composite, error) {
	if raw == nil {
		return Composite{}, fmt.Errorf("%w: nil record", ErrInvalidSignature)
	}
	vec, err := Coerce(raw["vector"])
	if err != nil {
		return Composite{}, err
	}

	c := Composite{
		Version: SchemaVersion,
		Vector:  vec,
	}
	if v, ok := raw["version"]; ok {
		f, err := toFloat(v)
		if err != nil {
			return Composite{}, fmt.Errorf("%w: version: %v", ErrInvalidSignature, err)
		}
		c.Version = int(f)
	}
	if id, ok := raw["turn_id"].(string); ok {
		c.TurnID = id
	}
	if v, ok := raw["energy"]; ok {
		if c.Energy, err = toFloat(v); err != nil {
			return Composite{}, fmt.Errorf("%w: energy: %v", ErrInvalidSignature, err)
		}
	} else {
		c.Energy = vec[OffsetEnergy]
	}
	if v, ok := raw["satisfaction"]; ok {
		if c.Satisfaction, err = toFloat(v); err != nil {
			return Composite{}, fmt.Errorf("%w: satisfaction: %v", ErrInvalidSignature, err)
		}
	} else {
		c.Satisfaction = vec[OffsetSatisfaction]
	}
	if v, ok := raw["zone"]; ok {
		f, err := toFloat(v)
		if err != nil {
			return Composite{}, fmt.Errorf("%w: zone: %v", ErrInvalidSignature, err)
		}
		c.Zone = Zone(int(f))
	}
	if a, ok := raw["autonomic"].(string); ok {
		c.Autonomic = Autonomic(a)
	}
	if ts, ok := raw["created_at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			c.CreatedAt = parsed
		}
	}
	return c, c.Validate()
}
