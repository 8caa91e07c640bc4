// Package generation is the external text-generation collaborator.
//
// Providers:
//   - "none": Unavailable, every call fails with ErrUnavailable
//   - "ollama": langchaingo's Ollama client
//   - "openai": langchaingo's OpenAI client
//
// Every call is rate limited and bounded by Config.Timeout. Callers treat
// any error as ErrUnavailable and fall back to a safe continuation.
//
// A Request names the emission mode it serves: ModeFusion asks the model to
// weave template drafts into one reply, ModeFallback asks it to answer from
// the full felt state alone. A Response carries a confidence in [0,1]; text
// cut short by the token limit is reported at TruncatedConfidence.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/feltd/internal/generation"

// Errors returned by generators.
var (
	ErrInvalidConfig = errors.New("invalid generation configuration")
	ErrUnavailable   = errors.New("text generation unavailable")
	ErrEmptyPrompt   = errors.New("prompt cannot be empty")
)

// Mode is the emission strategy a generation call serves.
type Mode string

const (
	ModeFusion   Mode = "fusion"
	ModeFallback Mode = "fallback"
)

// TruncatedConfidence is reported for text that hit the token limit.
const TruncatedConfidence = 0.4

// Request is one generation call.
type Request struct {
	Mode        Mode    `json:"mode"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Response is the generated text.
type Response struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Model      string        `json:"model"`
	Latency    time.Duration `json:"latency"`
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

// Config selects and configures a generator.
type Config struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"`
	Burst       int           `koanf:"burst"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
}

// DefaultConfig returns the unavailable generator, so a fresh install
// answers from templates and safe continuations only.
func DefaultConfig() Config {
	return Config{
		Provider:    "none",
		Model:       "llama3.2",
		BaseURL:     "http://localhost:11434",
		Timeout:     8 * time.Second,
		RateLimit:   2,
		Burst:       4,
		MaxTokens:   256,
		Temperature: 0.7,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "none":
		return nil
	case "ollama":
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("%w: openai provider requires api_key", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.RateLimit <= 0 || c.Burst < 1 {
		return fmt.Errorf("%w: rate_limit and burst must be positive", ErrInvalidConfig)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidConfig)
	}
	return nil
}

// New builds the configured generator.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var model llms.Model
	switch cfg.Provider {
	case "none":
		logger.Info("text generation disabled")
		return Unavailable{}, nil
	case "ollama":
		m, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		model = m
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		model = m
	}

	logger.Info("text generation initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))

	complete := func(ctx context.Context, prompt string, opts ...llms.CallOption) (completion, error) {
		resp, err := model.GenerateContent(ctx,
			[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, opts...)
		if err != nil {
			return completion{}, err
		}
		if len(resp.Choices) == 0 {
			return completion{}, errors.New("model returned no choices")
		}
		c := resp.Choices[0]
		return completion{Text: c.Content, StopReason: c.StopReason}, nil
	}
	return newLLMGenerator(cfg, complete, logger), nil
}

// completion is one model answer and why it stopped.
type completion struct {
	Text       string
	StopReason string
}

// completeFunc is the single-prompt call a langchaingo model provides.
type completeFunc func(ctx context.Context, prompt string, opts ...llms.CallOption) (completion, error)

// confidence maps a provider stop reason onto [0,1].
func confidence(stopReason string) float64 {
	switch strings.ToLower(stopReason) {
	case "length", "max_tokens":
		return TruncatedConfidence
	default:
		return 1
	}
}

type llmGenerator struct {
	name     string
	model    string
	complete completeFunc
	limiter  *rate.Limiter
	timeout  time.Duration
	defaults Request
	logger   *zap.Logger
	tracer   trace.Tracer
}

func newLLMGenerator(cfg Config, complete completeFunc, logger *zap.Logger) *llmGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &llmGenerator{
		name:     cfg.Provider,
		model:    cfg.Model,
		complete: complete,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		timeout:  cfg.Timeout,
		defaults: Request{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
}

func (g *llmGenerator) Name() string { return g.name }

// Generate waits for the limiter and calls the model, all within the
// configured timeout.
func (g *llmGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx, span := g.tracer.Start(ctx, "generation.Generate", trace.WithAttributes(
		attribute.String("generation.provider", g.name),
		attribute.String("generation.model", g.model),
		attribute.String("generation.mode", string(req.Mode)),
	))
	defer span.End()

	if err := g.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("%w: rate limiter: %w", ErrUnavailable, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.defaults.MaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = g.defaults.Temperature
	}
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	start := time.Now()
	out, err := g.complete(ctx, prompt, llms.WithMaxTokens(maxTokens), llms.WithTemperature(temperature))
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("text generation failed",
			zap.String("provider", g.name),
			zap.String("mode", string(req.Mode)),
			zap.Duration("latency", latency),
			zap.Error(err))
		return Response{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, g.name, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return Response{}, fmt.Errorf("%w: %s returned empty text", ErrUnavailable, g.name)
	}
	conf := confidence(out.StopReason)
	span.SetAttributes(attribute.Float64("generation.confidence", conf))
	return Response{Text: text, Confidence: conf, Model: g.model, Latency: latency}, nil
}

// Unavailable is the generator used when no provider is configured or the
// configured one cannot be built.
type Unavailable struct{}

// Generate always fails with ErrUnavailable.
func (Unavailable) Generate(context.Context, Request) (Response, error) {
	return Response{}, ErrUnavailable
}

// Name returns "none".
func (Unavailable) Name() string { return "none" }
