// Package observability provides structured logging, Prometheus metrics,
// and health checking capabilities for vigil.
//
// Key features:
//   - Structured JSON logging with configurable log levels
//   - Prometheus metrics for policy evaluation, violations and runs
//   - State store metrics collected on scrape
//   - HTTP endpoints for /metrics, /health, and /ready
package observability
