package entity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// Errors for tracker operations.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrEmptyKey          = errors.New("entity key cannot be empty")
	ErrEmptyUser         = errors.New("user id cannot be empty")
	ErrEmptyTurn         = errors.New("turn id cannot be empty")
	ErrInvalidActivation = errors.New("activation vector has wrong length")
	ErrInvalidConfig     = errors.New("invalid entity configuration")
	ErrInvalidProfile    = errors.New("invalid entity profile")
)

// Type is a coarse entity classification.
type Type string

const (
	TypePerson Type = "person"
	TypePlace  Type = "place"
	TypeOther  Type = "other"
)

// Mention is one extracted reference to an entity.
type Mention struct {
	Key     string `json:"key"`
	Type    Type   `json:"type"`
	Surface string `json:"surface"`
}

// Scalars are the contextual values tracked per entity alongside activations.
type Scalars struct {
	Urgency      float64 `json:"urgency"`
	Autonomic    float64 `json:"autonomic"`
	CoreDistance float64 `json:"core_distance"`
}

// Profile is the running recall profile for one entity of one user.
type Profile struct {
	Key          string         `json:"key"`
	Type         Type           `json:"type"`
	MentionCount int            `json:"mention_count"`
	Occurrences  int            `json:"occurrences"`
	Activation   []float64      `json:"activation"`
	Urgency      float64        `json:"urgency"`
	Autonomic    float64        `json:"autonomic"`
	CoreDistance float64        `json:"core_distance"`
	CoMentions   map[string]int `json:"co_mentions"`
	FirstSeen    time.Time      `json:"first_seen"`
	LastSeen     time.Time      `json:"last_seen"`
	LastTurnID   string         `json:"last_turn_id"`
	LastDelta    float64        `json:"last_delta"`
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	out := *p
	out.Activation = append([]float64(nil), p.Activation...)
	out.CoMentions = make(map[string]int, len(p.CoMentions))
	for k, v := range p.CoMentions {
		out.CoMentions[k] = v
	}
	return &out
}

// Familiarity maps the mention count onto [0,1]; twenty turns of mentions
// saturate it.
func (p *Profile) Familiarity() float64 {
	if p.MentionCount <= 0 {
		return 0
	}
	f := float64(p.MentionCount) / 20
	if f > 1 {
		return 1
	}
	return f
}

// Validate checks a profile loaded from persistence.
func (p *Profile) Validate() error {
	if p.Key == "" {
		return ErrEmptyKey
	}
	if len(p.Activation) != signature.EvaluatorSlots {
		return fmt.Errorf("%w: %d", ErrInvalidActivation, len(p.Activation))
	}
	for i, v := range p.Activation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: activation %d is not finite", ErrInvalidProfile, i)
		}
	}
	for _, v := range []float64{p.Urgency, p.Autonomic, p.CoreDistance, p.LastDelta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: scalar is not finite", ErrInvalidProfile)
		}
	}
	if p.MentionCount < 0 || p.Occurrences < 0 {
		return fmt.Errorf("%w: negative counters", ErrInvalidProfile)
	}
	return nil
}

// GraphStore is the optional relationship-store collaborator.
type GraphStore interface {
	// Related returns keys related to key for the user, strongest first.
	Related(ctx context.Context, userID, key string) ([]string, error)
}

// Config holds tracker tuning.
type Config struct {
	Alpha        float64       `koanf:"alpha"`
	Capacity     int           `koanf:"capacity"`
	MaxUsers     int           `koanf:"max_users"`
	GraphTimeout time.Duration `koanf:"graph_timeout"`
	// MaxCoMentions caps the co-mention entries kept per profile.
	MaxCoMentions int `koanf:"max_co_mentions"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:         0.25,
		Capacity:      2048,
		MaxUsers:      10000,
		GraphTimeout:  150 * time.Millisecond,
		MaxCoMentions: 64,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in (0,1], got %f", ErrInvalidConfig, c.Alpha)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	if c.MaxUsers <= 0 {
		return fmt.Errorf("%w: max_users must be positive", ErrInvalidConfig)
	}
	if c.GraphTimeout <= 0 {
		return fmt.Errorf("%w: graph_timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxCoMentions <= 0 {
		return fmt.Errorf("%w: max_co_mentions must be positive", ErrInvalidConfig)
	}
	return nil
}
