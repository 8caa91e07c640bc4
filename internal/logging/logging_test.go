package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/feltd/internal/config"
	"github.com/fyrsmithlabs/feltd/internal/sanitize"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func newBufferedLogger(t *testing.T, mutate func(*Config)) (*Logger, *syncBuffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	if mutate != nil {
		mutate(cfg)
	}
	sink := &syncBuffer{}
	l, err := newLogger(cfg, nil, sink)
	require.NoError(t, err)
	return l, sink
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
		{"no outputs", func(c *Config) { c.Output.Stream = "none" }, "at least one output"},
		{"otel only", func(c *Config) { c.Output = OutputConfig{Stream: "none", OTEL: true} }, ""},
		{"bad stream", func(c *Config) { c.Output.Stream = "syslog" }, "output stream"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"sampled errors", func(c *Config) {
			c.Sampling.Levels[zapcore.ErrorLevel] = LevelSamplingConfig{Initial: 1}
		}, "cannot be sampled"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"empty field", func(c *Config) { c.Fields[""] = "x" }, "field key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.LoggingConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"trace": TraceLevel,
		"DEBUG": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestLogger_ContextFields(t *testing.T) {
	l, sink := newBufferedLogger(t, nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithUserID(ctx, "user-7")
	ctx = WithTurnID(ctx, "3f1c2d9e-0c55-4d0e-9b2a-1b7c7d7f0a11")
	ctx = WithRequestID(ctx, "req_1")

	l.Info(ctx, "turn accepted", zap.Int("cycles", 3))
	require.NoError(t, l.Sync())

	lines := sink.lines(t)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "turn accepted", line["msg"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "feltd", line["service"])
	assert.Equal(t, "user-7", line["user.id"])
	assert.Equal(t, "3f1c2d9e-0c55-4d0e-9b2a-1b7c7d7f0a11", line["turn.id"])
	assert.Equal(t, "req_1", line["request.id"])
	assert.Equal(t, traceID.String(), line["trace_id"])
	assert.EqualValues(t, 3, line["cycles"])
	assert.Contains(t, line["caller"], "logging_test.go")
}

func TestContext_InvalidIDsIgnored(t *testing.T) {
	ctx := WithUserID(context.Background(), "bad id with spaces")
	assert.Empty(t, UserIDFromContext(ctx))
	ctx = WithTurnID(ctx, strings.Repeat("a", sanitize.MaxIDLength+1))
	assert.Empty(t, TurnIDFromContext(ctx))
	assert.Empty(t, ContextFields(ctx))
	assert.Error(t, ValidateID(""))
	assert.NoError(t, ValidateID("family-0001"))
}

func TestLogger_FromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from context")
	tl.AssertLogged(t, zapcore.WarnLevel, "from context")
}

func TestLogger_RedactsUtterances(t *testing.T) {
	l, sink := newBufferedLogger(t, nil)
	utterance := "my mom died last week"

	l.With(zap.String("prompt", utterance)).Info(context.Background(), "generation requested",
		zap.String("text", utterance),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "llama3.2"))

	line := sink.lines(t)[0]
	assert.Equal(t, "[REDACTED:21]", line["text"])
	assert.Equal(t, "[REDACTED:21]", line["prompt"])
	assert.Equal(t, "[REDACTED:pattern]", line["header"])
	assert.Equal(t, "llama3.2", line["model"])
}

func TestLogger_RedactionDisabled(t *testing.T) {
	l, sink := newBufferedLogger(t, func(c *Config) { c.Redaction.Enabled = false })
	l.Info(context.Background(), "debugging", zap.String("text", "hello"))
	assert.Equal(t, "hello", sink.lines(t)[0]["text"])
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "sk-123456")
	assert.Equal(t, "[REDACTED:9]", f.String)
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	l, sink := newBufferedLogger(t, func(c *Config) {
		c.Sampling.Tick = config.Duration(time.Hour)
		c.Sampling.Levels = map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 2, Thereafter: 0},
		}
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Info(ctx, "cycle")
		l.Error(ctx, "store failed")
		l.Warn(ctx, "degraded")
	}

	counts := map[string]int{}
	for _, line := range sink.lines(t) {
		counts[line["msg"].(string)]++
	}
	assert.Equal(t, 2, counts["cycle"])
	assert.Equal(t, 10, counts["store failed"])
	assert.Equal(t, 10, counts["degraded"], "levels without an entry are not sampled")
}

func TestSampling_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestLogger_TraceLevelEncoding(t *testing.T) {
	l, sink := newBufferedLogger(t, func(c *Config) { c.Sampling.Enabled = false })
	l.Trace(context.Background(), "cycle detail")
	assert.Equal(t, "trace", sink.lines(t)[0]["level"])

	info, sink2 := newBufferedLogger(t, func(c *Config) { c.Level = zapcore.InfoLevel })
	info.Debug(context.Background(), "hidden")
	assert.False(t, info.Enabled(zapcore.DebugLevel))
	assert.Empty(t, sink2.lines(t))
}

func TestNewCore_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{Stream: "none", OTEL: true}
	_, err := newCore(cfg, nil, nil)
	assert.Error(t, err)
}

func TestTestLogger_AssertNoUtterance(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "turn processed", zap.String("strategy", "direct"))
	tl.AssertNoUtterance(t, "my mom")
	tl.AssertField(t, "turn processed", "strategy", "direct")
}
