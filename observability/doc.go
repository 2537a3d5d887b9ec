// Package observability provides an ext.Extension that records
// system-wide lifecycle metrics via OpenTelemetry: job throughput,
// webhook delivery outcomes, circuit breaker transitions, and live
// queue gauges. Advisory only: it observes, it never changes behavior.
package observability
