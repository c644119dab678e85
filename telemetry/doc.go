// Package telemetry bridges the framework's counters, histograms, and
// gauges onto the OpenTelemetry metric API, exposes them as Prometheus text
// exposition via the OTEL Prometheus exporter, and emits spans for the
// handler -> middleware chain -> tool handler path. An optional OTLP
// exporter ships spans to a collector when configured.
//
// Bridge replaces the single process-wide tracer singleton spec.md §9
// flags as global mutable state: it is a field on the server, constructed
// once per server instance, so concurrent servers in the same process do
// not share a tracer.
package telemetry
