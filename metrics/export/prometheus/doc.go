// Package prometheus publishes authcore engine metrics as a prometheus.Collector.
//
// The collector reads Engine.MetricsSnapshot on every scrape; nothing is
// registered globally. Use [PrometheusExporter.Handler] for a standalone
// /metrics endpoint, or register the exporter in an existing registry.
package prometheus
