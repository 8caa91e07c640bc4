// Package emission decides how a turn's response is produced and produces it.
//
// Select is a pure ladder over the ranked nexuses:
//
//	Direct    top confidence >= DirectMin and a template exists for the top
//	          atom in the turn's family (family-specific, then wildcard)
//	Fusion    top confidence >= FusionMin, or a demoted Direct, with at least
//	          one template among the top FusionNexuses nexuses
//	Fallback  everything else, including zero nexuses
//
// A missing template demotes to the next strategy and the demotion is
// recorded on the Decision. The Emitter then turns a Decision into text,
// ending in a safe continuation whenever the generator is unavailable.
package emission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/feltd/internal/nexus"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid emission configuration")

// Strategy is the generation strategy.
type Strategy int

const (
	StrategyFallback Strategy = iota
	StrategyFusion
	StrategyDirect
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyFusion:
		return "fusion"
	default:
		return "fallback"
	}
}

// MarshalText encodes the strategy name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the ladder thresholds.
type Config struct {
	DirectMin     float64 `koanf:"direct_min"`
	FusionMin     float64 `koanf:"fusion_min"`
	FusionNexuses int     `koanf:"fusion_nexuses"`
	// TemplatesPath is an optional TOML template file that replaces the
	// built-in library and is watched for changes.
	TemplatesPath string `koanf:"templates_path"`
	// SafeContinuation is emitted when nothing else can be produced.
	SafeContinuation string `koanf:"safe_continuation"`
	// MinGeneratorConfidence is the lowest generator confidence accepted;
	// weaker text is discarded for the next rung.
	MinGeneratorConfidence float64 `koanf:"min_generator_confidence"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		DirectMin:              0.65,
		FusionMin:              0.42,
		FusionNexuses:          3,
		SafeContinuation:       "I'm here with you. Take your time, and tell me whatever feels most important right now.",
		MinGeneratorConfidence: 0.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FusionMin < 0 || c.DirectMin > 1 || c.FusionMin > c.DirectMin {
		return fmt.Errorf("%w: need 0 <= fusion_min <= direct_min <= 1", ErrInvalidConfig)
	}
	if c.FusionNexuses < 1 {
		return fmt.Errorf("%w: fusion_nexuses must be at least 1", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.SafeContinuation) == "" {
		return fmt.Errorf("%w: safe_continuation cannot be empty", ErrInvalidConfig)
	}
	if c.MinGeneratorConfidence < 0 || c.MinGeneratorConfidence > 1 {
		return fmt.Errorf("%w: min_generator_confidence must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// TemplateLookup finds a template for an atom within a family.
type TemplateLookup interface {
	Lookup(atom, family string) (Template, bool)
}

// EntityNote is a mentioned entity as context for generation.
type EntityNote struct {
	Key         string  `json:"key"`
	Type        string  `json:"type"`
	Familiarity float64 `json:"familiarity"`
	Mentions    int     `json:"mentions"`
}

// Input is everything Select looks at.
type Input struct {
	Nexuses      []nexus.Nexus
	FamilyID     string
	Zone         string
	Autonomic    string
	Energy       float64
	Satisfaction float64
	Kairos       bool
	Entities     []EntityNote
}

// Demotion records one step down the ladder.
type Demotion struct {
	From   Strategy `json:"from"`
	To     Strategy `json:"to"`
	Reason string   `json:"reason"`
}

// Guidance is the structured generation context.
type Guidance struct {
	Atoms        []string     `json:"atoms"`
	Contributors []string     `json:"contributors"`
	FamilyID     string       `json:"family_id,omitempty"`
	Zone         string       `json:"zone"`
	Autonomic    string       `json:"autonomic"`
	Energy       float64      `json:"energy"`
	Satisfaction float64      `json:"satisfaction"`
	Kairos       bool         `json:"kairos"`
	Entities     []EntityNote `json:"entities,omitempty"`
}

// Decision is the selected strategy and what it needs.
type Decision struct {
	Strategy      Strategy   `json:"strategy"`
	TopConfidence float64    `json:"top_confidence"`
	Templates     []Template `json:"templates,omitempty"`
	Guidance      Guidance   `json:"guidance"`
	Demotions     []Demotion `json:"demotions,omitempty"`
}

// Selector applies the ladder.
type Selector struct {
	cfg       Config
	templates TemplateLookup
}

// NewSelector validates cfg. A nil lookup means no templates exist.
func NewSelector(cfg Config, templates TemplateLookup) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Selector{cfg: cfg, templates: templates}, nil
}

func (s *Selector) lookup(atom, family string) (Template, bool) {
	if s.templates == nil {
		return Template{}, false
	}
	return s.templates.Lookup(atom, family)
}

// Select chooses a strategy. It has no side effects.
func (s *Selector) Select(in Input) Decision {
	d := Decision{Strategy: StrategyFallback, Guidance: guidance(in, s.cfg.FusionNexuses)}
	if len(in.Nexuses) == 0 {
		return d
	}
	top := in.Nexuses[0]
	d.TopConfidence = top.Confidence

	fusionEligible := top.Confidence >= s.cfg.FusionMin
	if top.Confidence >= s.cfg.DirectMin {
		if t, ok := s.lookup(top.Atom, in.FamilyID); ok {
			d.Strategy = StrategyDirect
			d.Templates = []Template{t}
			return d
		}
		d.Demotions = append(d.Demotions, Demotion{
			From: StrategyDirect, To: StrategyFusion,
			Reason: fmt.Sprintf("no template for atom %q", top.Atom),
		})
	}
	if !fusionEligible {
		return d
	}

	n := min(len(in.Nexuses), s.cfg.FusionNexuses)
	for _, nx := range in.Nexuses[:n] {
		if t, ok := s.lookup(nx.Atom, in.FamilyID); ok {
			d.Templates = append(d.Templates, t)
		}
	}
	if len(d.Templates) > 0 {
		d.Strategy = StrategyFusion
		return d
	}
	d.Demotions = append(d.Demotions, Demotion{
		From: StrategyFusion, To: StrategyFallback,
		Reason: fmt.Sprintf("no template among top %d nexuses", n),
	})
	return d
}

func guidance(in Input, limit int) Guidance {
	g := Guidance{
		FamilyID:     in.FamilyID,
		Zone:         in.Zone,
		Autonomic:    in.Autonomic,
		Energy:       in.Energy,
		Satisfaction: in.Satisfaction,
		Kairos:       in.Kairos,
		Entities:     in.Entities,
	}
	seen := make(map[string]bool)
	for i, nx := range in.Nexuses {
		if i >= limit {
			break
		}
		g.Atoms = append(g.Atoms, nx.Atom)
		for _, k := range nx.Contributors {
			if name := k.String(); !seen[name] {
				seen[name] = true
				g.Contributors = append(g.Contributors, name)
			}
		}
	}
	return g
}

// Prompt renders the full felt state as a fallback generation prompt.
func (g Guidance) Prompt(userText string) string {
	var b strings.Builder
	b.WriteString("Felt state of the person you are responding to:\n")
	fmt.Fprintf(&b, "- zone: %s\n- autonomic state: %s\n", g.Zone, g.Autonomic)
	fmt.Fprintf(&b, "- energy: %.2f, coherence: %.2f", g.Energy, g.Satisfaction)
	if g.Kairos {
		b.WriteString(" (settled)")
	}
	b.WriteString("\n")
	if len(g.Atoms) > 0 {
		fmt.Fprintf(&b, "- what stands out: %s\n", strings.Join(g.Atoms, ", "))
		fmt.Fprintf(&b, "- noticed by: %s\n", strings.Join(g.Contributors, ", "))
	}
	for _, e := range g.Entities {
		fmt.Fprintf(&b, "- mentioned %s %q (familiarity %.2f, %d mentions)\n", e.Type, e.Key, e.Familiarity, e.Mentions)
	}
	b.WriteString("\nThey said:\n")
	b.WriteString(userText)
	b.WriteString("\n\nRespond briefly and warmly, staying with what they said.")
	return b.String()
}

// FusionPrompt asks for one reply woven from drafts, the rendered templates
// of the top nexuses. Only the atoms and zone of the felt state are given.
func (g Guidance) FusionPrompt(userText string, drafts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The person is in the %s zone; what stands out: %s.\n", g.Zone, strings.Join(g.Atoms, ", "))
	b.WriteString("\nDraft replies, one per thing that stands out:\n")
	for _, d := range drafts {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString("\nThey said:\n")
	b.WriteString(userText)
	b.WriteString("\n\nWeave the drafts into one short, warm reply. Keep their meaning; add nothing new.")
	return b.String()
}
