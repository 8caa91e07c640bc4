// Package telemetry sets up OpenTelemetry tracing and metrics.
//
// Components create their instruments from the global otel providers, so
// New must run before the services are built. Two metric paths exist:
//
//   - a Prometheus reader backed by a private registry, served at /metrics
//   - an OTLP periodic reader, when Enabled, over gRPC or HTTP/protobuf
//
// Traces are only exported over OTLP. Export failures never fail the
// process; the instance is marked degraded instead.
package telemetry
