package signature

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// SchemaVersion identifies the vector layout below.
	SchemaVersion = 1

	// EvaluatorSlots is the number of evaluator variants encoded in a signature.
	EvaluatorSlots = 12

	// FeaturesPerEvaluator is activation, intensity, polarity, confidence.
	FeaturesPerEvaluator = 4

	// ZoneCount is the number of zone classifications (one-hot).
	ZoneCount = 5

	// AutonomicCount is the number of autonomic state classifications (one-hot).
	AutonomicCount = 3

	OffsetEnergy       = EvaluatorSlots * FeaturesPerEvaluator
	OffsetSatisfaction = OffsetEnergy + 1
	OffsetCycles       = OffsetEnergy + 2
	OffsetKairos       = OffsetEnergy + 3
	OffsetZone         = OffsetEnergy + 4
	OffsetAutonomic    = OffsetZone + ZoneCount

	// Dimension is the fixed length of every Vector.
	Dimension = OffsetAutonomic + AutonomicCount
)

// ErrInvalidSignature is returned when a value cannot be coerced into a Vector.
var ErrInvalidSignature = errors.New("invalid signature")

// Vector is a fixed-dimension felt signature vector.
type Vector []float64

// NewVector returns a zero vector of length Dimension.
func NewVector() Vector {
	return make(Vector, Dimension)
}

// Validate checks length and finiteness.
func (v Vector) Validate() error {
	if len(v) != Dimension {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(v), Dimension)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidSignature, i)
		}
	}
	return nil
}

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero
// vector or the lengths differ.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Blend returns (1-alpha)*base + alpha*sample.
func Blend(base, sample Vector, alpha float64) Vector {
	out := make(Vector, len(base))
	for i := range base {
		out[i] = (1-alpha)*base[i] + alpha*sample[i]
	}
	return out
}

// Coerce converts raw into a validated Vector. See the package documentation
// for the accepted shapes.
func Coerce(raw any) (Vector, error) {
	var v Vector
	switch t := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil vector", ErrInvalidSignature)
	case Vector:
		v = t.Clone()
	case []float64:
		v = Vector(t).Clone()
	case []float32:
		v = make(Vector, len(t))
		for i, x := range t {
			v[i] = float64(x)
		}
	case []any:
		v = make(Vector, len(t))
		for i, elem := range t {
			f, err := toFloat(elem)
			if err != nil {
				return nil, fmt.Errorf("%w: component %d: %v", ErrInvalidSignature, i, err)
			}
			v[i] = f
		}
	case json.RawMessage:
		var items []any
		if err := json.Unmarshal(t, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return Coerce(items)
	case string:
		// A vector that was stringified by an upstream encoder.
		var items []any
		if err := json.Unmarshal([]byte(t), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return Coerce(items)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidSignature, raw)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func toFloat(elem any) (float64, error) {
	switch n := elem.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported element type %T", elem)
	}
}

// UnmarshalJSON decodes a JSON array through Coerce.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var items []any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	coerced, err := Coerce(items)
	if err != nil {
		return err
	}
	*v = coerced
	return nil
}
