package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Recorder captures spans and metrics in memory.
type Recorder struct {
	Spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// Install replaces the global providers with in-memory ones for the
// duration of tb. Tests using it must not run in parallel.
func Install(tb testing.TB) *Recorder {
	tb.Helper()
	r := &Recorder{Spans: tracetest.NewSpanRecorder(), reader: sdkmetric.NewManualReader()}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(r.Spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(r.reader))

	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	return r
}

// Span returns the first ended span named name, or nil.
func (r *Recorder) Span(name string) sdktrace.ReadOnlySpan {
	for _, s := range r.Spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// SpanAttr returns the value of key on the named span.
func (r *Recorder) SpanAttr(name string, key attribute.Key) (attribute.Value, bool) {
	s := r.Span(name)
	if s == nil {
		return attribute.Value{}, false
	}
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Sum returns the total of an int64 counter across all attribute sets.
func (r *Recorder) Sum(tb testing.TB, name string) int64 {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
