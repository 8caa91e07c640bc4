// Package embeddings provides the embedding/similarity collaborator used by
// evaluators to compare a turn's input against learned prototypes.
//
// Providers:
//   - "hash": local deterministic feature hashing, always available
//   - "ollama": chromem-go's Ollama embedding function
//   - "openai": chromem-go's OpenAI embedding function
//
// Remote providers are wrapped with a per-call timeout; callers treat any
// error as ErrUnavailable and degrade instead of failing the turn.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Errors returned by providers.
var (
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
	ErrUnavailable   = errors.New("embedding provider unavailable")
	ErrEmptyText     = errors.New("text cannot be empty")
)

// Provider turns text into a fixed-dimension vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the length of every vector Embed produces.
	Dimension() int
	// Name identifies the provider in logs and metrics.
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider  string        `koanf:"provider"`
	Model     string        `koanf:"model"`
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Dimension int           `koanf:"dimension"`
	Timeout   time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the local hashing provider.
func DefaultConfig() Config {
	return Config{
		Provider:  "hash",
		Model:     "nomic-embed-text",
		BaseURL:   "http://localhost:11434/api",
		Dimension: 256,
		Timeout:   300 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	switch c.Provider {
	case "hash", "ollama":
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("%w: openai provider requires api_key", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// NewProvider builds the configured provider wrapped with metrics.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var p Provider
	switch cfg.Provider {
	case "hash":
		p = NewHashProvider(cfg.Dimension)
	case "ollama":
		p = &remoteProvider{
			name:      "ollama",
			model:     cfg.Model,
			fn:        chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL),
			dimension: cfg.Dimension,
			timeout:   cfg.Timeout,
		}
	case "openai":
		p = &remoteProvider{
			name:      "openai",
			model:     cfg.Model,
			fn:        chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI(cfg.Model)),
			dimension: cfg.Dimension,
			timeout:   cfg.Timeout,
		}
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", p.Name()),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()))

	return &instrumented{Provider: p, model: cfg.Model, metrics: NewMetrics(logger)}, nil
}

// remoteProvider adapts a chromem embedding function.
type remoteProvider struct {
	name      string
	model     string
	fn        chromem.EmbeddingFunc
	dimension int
	timeout   time.Duration
}

func (r *remoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := r.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, r.name, err)
	}
	if len(vec) != r.dimension {
		return nil, fmt.Errorf("%w: %s returned dimension %d, configured %d", ErrUnavailable, r.name, len(vec), r.dimension)
	}
	return vec, nil
}

func (r *remoteProvider) Dimension() int { return r.dimension }
func (r *remoteProvider) Name() string   { return r.name }

type instrumented struct {
	Provider
	model   string
	metrics *Metrics
}

func (i *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := i.Provider.Embed(ctx, text)
	i.metrics.RecordEmbed(ctx, i.Provider.Name(), i.model, time.Since(start), err)
	return vec, err
}
