package embeddings

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine32(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider_Deterministic(t *testing.T) {
	p := NewHashProvider(128)
	ctx := context.Background()

	a, err := p.Embed(ctx, "I feel so alone tonight")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "I feel so alone tonight")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
	assert.InDelta(t, 1.0, cosine32(a, a), 1e-5)
}

func TestHashProvider_SimilarTextScoresHigher(t *testing.T) {
	p := NewHashProvider(256)
	ctx := context.Background()

	base, _ := p.Embed(ctx, "my chest feels tight and my breath is shallow")
	near, _ := p.Embed(ctx, "my chest is tight, shallow breath")
	far, _ := p.Embed(ctx, "quarterly revenue projections spreadsheet")

	assert.Greater(t, cosine32(base, near), cosine32(base, far))
}

func TestHashProvider_EmptyText(t *testing.T) {
	p := NewHashProvider(64)
	_, err := p.Embed(context.Background(), "  ... ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHashProvider_CancelledContext(t *testing.T) {
	p := NewHashProvider(64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Provider = "openai"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Provider = "word2vec"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Dimension = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestRemoteProvider_WrapsFailure(t *testing.T) {
	p := &remoteProvider{
		name:      "ollama",
		dimension: 4,
		timeout:   50 * time.Millisecond,
		fn: func(ctx context.Context, text string) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	_, err := p.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRemoteProvider_DimensionMismatch(t *testing.T) {
	p := &remoteProvider{
		name:      "ollama",
		dimension: 4,
		timeout:   time.Second,
		fn: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 2}, nil
		},
	}
	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewProvider_Hash(t *testing.T) {
	p, err := NewProvider(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hash", p.Name())
	assert.Equal(t, 256, p.Dimension())

	vec, err := p.Embed(context.Background(), "steady breath")
	require.NoError(t, err)
	assert.Len(t, vec, 256)
}
