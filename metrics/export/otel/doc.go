// Package otel exposes authcore engine metrics through OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] registers one callback that reads Engine.MetricsSnapshot
// on each collection. The caller owns the MeterProvider.
package otel
