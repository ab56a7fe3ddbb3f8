// Package otel publishes panelauth engine counters through an
// OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter
// and one Int64ObservableGauge per latency bucket. A single callback reads
// [panelauth.Engine.MetricsSnapshot] on each collection. Callers own the
// MeterProvider.
package otel
