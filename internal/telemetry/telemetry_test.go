package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/feltd/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"disabled skips otlp checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"no service name", func(c *Config) { c.ServiceName = "" }, "service_name"},
		{"enabled without endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, "endpoint"},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "protocol"},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, "insecure"},
		{"tls remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "https://otel.example.com:4318"
			c.Insecure = false
		}, ""},
		{"bad rate", func(c *Config) { c.Enabled = true; c.Sampling.Rate = 1.5 }, "sampling.rate"},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.Shutdown.Timeout = 0 }, "shutdown.timeout"},
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

func TestIsLocalEndpoint(t *testing.T) {
	for endpoint, want := range map[string]bool{
		"localhost:4317":        true,
		"127.0.0.1:4317":        true,
		"[::1]:4317":            true,
		"http://localhost:4318": true,
		"collector:4317":        false,
	} {
		cfg := &Config{Endpoint: endpoint}
		assert.Equal(t, want, cfg.isLocalEndpoint(), endpoint)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4318",
		Protocol:   "http/protobuf",
		Insecure:   true,
		SampleRate: 0.25,
	}, false, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Prometheus)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "feltd", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	require.NoError(t, cfg.Validate())
}

func TestNew_PrometheusServesOtelInstruments(t *testing.T) {
	prevMP := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prevMP) })

	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	require.NotNil(t, tel.Registry())
	assert.False(t, tel.Health().Degraded)

	counter, err := otel.Meter("test").Int64Counter("feltd.test.turns_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3, metric.WithAttributes(attribute.String("strategy", "direct")))

	srv := httptest.NewServer(tel.MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `feltd_test_turns_total{`)
	assert.Contains(t, string(body), `strategy="direct"`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_NoPrometheus(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Prometheus = false
	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, tel.Registry())
	assert.Nil(t, tel.MetricsHandler())
	require.NoError(t, tel.Shutdown(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceName = ""
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.Nil(t, tel.Registry())
	assert.Nil(t, tel.MetricsHandler())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.True(t, tel.Health().Degraded)
	assert.NotNil(t, tel.LoggerProvider())
	tel.SetLoggerProvider(nil)
}

func TestLoggerProvider(t *testing.T) {
	tel := &Telemetry{}
	assert.Equal(t, global.GetLoggerProvider(), tel.LoggerProvider())

	lp := lognoop.NewLoggerProvider()
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
}

func TestRecorder(t *testing.T) {
	rec := Install(t)
	ctx, span := otel.Tracer("test").Start(context.Background(), "turn.Process")
	span.SetAttributes(attribute.Int("convergence.cycles", 2))
	span.End()

	counter, err := otel.Meter("test").Int64Counter("feltd.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 5, metric.WithAttributes(attribute.String("k", "v")))

	require.NotNil(t, rec.Span("turn.Process"))
	v, ok := rec.SpanAttr("turn.Process", "convergence.cycles")
	require.True(t, ok)
	assert.EqualValues(t, 2, v.AsInt64())
	assert.EqualValues(t, 7, rec.Sum(t, "feltd.test.count"))
}
