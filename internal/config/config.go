// Package config loads feltd configuration.
//
// Defaults come from each component's DefaultConfig. A YAML file and then
// FELT_-prefixed environment variables are layered on top; see Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/feltd/internal/convergence"
	"github.com/fyrsmithlabs/feltd/internal/coupling"
	"github.com/fyrsmithlabs/feltd/internal/embeddings"
	"github.com/fyrsmithlabs/feltd/internal/emission"
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/generation"
	"github.com/fyrsmithlabs/feltd/internal/nexus"
	"github.com/fyrsmithlabs/feltd/internal/sanitize"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete feltd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`

	Engine     convergence.Config `koanf:"engine"`
	Evaluators evaluator.Config   `koanf:"evaluators"`
	Nexus      nexus.Config       `koanf:"nexus"`
	Coupling   coupling.Config    `koanf:"coupling"`
	Families   family.Config      `koanf:"families"`
	Entities   entity.Config      `koanf:"entities"`
	Emission   emission.Config    `koanf:"emission"`
	Embeddings embeddings.Config  `koanf:"embeddings"`
	Generation generation.Config  `koanf:"generation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Metrics exposes the Prometheus handler at /metrics.
	Metrics bool `koanf:"metrics"`
}

// Addr is host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PersistenceConfig controls where learned state lives and how often it is
// flushed. An empty Dir disables persistence.
type PersistenceConfig struct {
	Dir           string        `koanf:"dir"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// LoggingConfig is the subset of logging options exposed in the file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8420,
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Persistence: PersistenceConfig{
			Dir:           defaultStateDir(),
			FlushInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "feltd",
			Insecure:    true,
			SampleRate:  1,
		},
		Engine:     convergence.DefaultConfig(),
		Evaluators: evaluator.DefaultConfig(),
		Nexus:      nexus.DefaultConfig(),
		Coupling:   coupling.DefaultConfig(),
		Families:   family.DefaultConfig(),
		Entities:   entity.DefaultConfig(),
		Emission:   emission.DefaultConfig(),
		Embeddings: embeddings.DefaultConfig(),
		Generation: generation.DefaultConfig(),
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "feltd")
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be in [1,65535], got %d", ErrInvalid, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: server.shutdown_timeout must be positive", ErrInvalid)
	}
	if c.Persistence.Dir != "" {
		if _, err := sanitize.ValidatePath(c.Persistence.Dir, ""); err != nil {
			return fmt.Errorf("%w: persistence.dir: %w", ErrInvalid, err)
		}
	}
	if c.Emission.TemplatesPath != "" {
		if _, err := sanitize.ValidatePath(c.Emission.TemplatesPath, ""); err != nil {
			return fmt.Errorf("%w: emission.templates_path: %w", ErrInvalid, err)
		}
	}
	if c.Persistence.FlushInterval < 0 {
		return fmt.Errorf("%w: persistence.flush_interval cannot be negative", ErrInvalid)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be json or console, got %q", ErrInvalid, c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be in [0,1]", ErrInvalid)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("%w: telemetry.endpoint is required when telemetry is enabled", ErrInvalid)
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{"engine", c.Engine.Validate},
		{"evaluators", c.Evaluators.Validate},
		{"nexus", c.Nexus.Validate},
		{"coupling", c.Coupling.Validate},
		{"families", c.Families.Validate},
		{"entities", c.Entities.Validate},
		{"emission", c.Emission.Validate},
		{"embeddings", c.Embeddings.Validate},
		{"generation", c.Generation.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, s.name, err)
		}
	}
	return nil
}
