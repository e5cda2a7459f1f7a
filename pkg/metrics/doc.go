// Package metrics defines Prometheus metrics for the audit pipeline:
// capture counters, delivery queue gauges and flush histograms, plus
// an HTTP handler for scraping.
package metrics
