package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider embeds text by hashing word unigrams and character trigrams
// into a fixed number of buckets, then L2-normalizing. It needs no model and
// no network, so evaluators always have a similarity signal to fall back on.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a provider producing vectors of the given length.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashProvider{dimension: dimension}
}

// Embed implements Provider.
func (h *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	if len(words) == 0 {
		return nil, ErrEmptyText
	}

	acc := make([]float64, h.dimension)
	for _, w := range words {
		h.add(acc, "w:"+w, 1.0)
		padded := "^" + w + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(acc, "t:"+string(runes[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dimension)
	if norm == 0 {
		return out, nil
	}
	for i, x := range acc {
		out[i] = float32(x / norm)
	}
	return out, nil
}

func (h *HashProvider) add(acc []float64, feature string, weight float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dimension))
	// The top bit picks the sign so unrelated features cancel on average.
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// Dimension implements Provider.
func (h *HashProvider) Dimension() int { return h.dimension }

// Name implements Provider.
func (h *HashProvider) Name() string { return "hash" }
