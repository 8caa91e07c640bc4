package evaluator

import (
	"fmt"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// Kind identifies one evaluator variant.
type Kind int

const (
	KindListening Kind = iota
	KindEmpathy
	KindWisdom
	KindAuthenticity
	KindPresence
	KindBond
	KindSafety
	KindUrgency
	KindRhythm
	KindAutonomic
	KindMemory
	KindScaling

	kindCount
)

var _ [signature.EvaluatorSlots - int(kindCount)]struct{}

var kindNames = [...]string{
	KindListening:    "listening",
	KindEmpathy:      "empathy",
	KindWisdom:       "wisdom",
	KindAuthenticity: "authenticity",
	KindPresence:     "presence",
	KindBond:         "bond",
	KindSafety:       "safety",
	KindUrgency:      "urgency",
	KindRhythm:       "rhythm",
	KindAutonomic:    "autonomic",
	KindMemory:       "memory",
	KindScaling:      "scaling",
}

// Kinds returns every variant in slot order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Index returns the signature slot of k.
func (k Kind) Index() int { return int(k) }

// Valid reports whether k is one of the twelve variants.
func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown evaluator kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds key JSON maps by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid evaluator kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
