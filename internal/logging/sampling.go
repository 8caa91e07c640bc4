package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore gives each configured level its own sampler. Levels
// without an entry, and everything at Error or above, pass through
// unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}
	cores := []zapcore.Core{&levelGate{
		Core: core,
		allow: func(l zapcore.Level) bool {
			_, sampled := cfg.Levels[l]
			return !sampled || l >= zapcore.ErrorLevel
		},
	}}
	for lvl, s := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		only := lvl
		gated := &levelGate{Core: core, allow: func(l zapcore.Level) bool { return l == only }}
		cores = append(cores, zapcore.NewSamplerWithOptions(gated, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelGate passes only the levels allow accepts.
type levelGate struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (g *levelGate) Enabled(lvl zapcore.Level) bool {
	return g.allow(lvl) && g.Core.Enabled(lvl)
}

func (g *levelGate) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !g.allow(e.Level) {
		return ce
	}
	return g.Core.Check(e, ce)
}

func (g *levelGate) With(fields []zapcore.Field) zapcore.Core {
	return &levelGate{Core: g.Core.With(fields), allow: g.allow}
}
