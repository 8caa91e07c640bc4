package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore tees the redacting stream core with the otelzap bridge and wraps
// the result in the sampler.
func newCore(cfg *Config, otelProvider log.LoggerProvider, sink zapcore.WriteSyncer) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if sink != nil {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, sink, cfg.Level))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		floor := cfg.Level
		cores = append(cores, &levelGate{
			Core:  otelzap.NewCore("github.com/fyrsmithlabs/feltd", otelzap.WithLoggerProvider(otelProvider)),
			allow: func(l zapcore.Level) bool { return l >= floor },
		})
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}
