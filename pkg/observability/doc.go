// Package observability provides structured logging, Prometheus metrics,
// health checks, optional OpenTelemetry tracing, and graceful shutdown.
//
// # Overview
//
// The Logger wraps log/slog with a JSON handler and chainable field helpers.
// Request, session and account IDs travel via context and are attached to
// log lines with FromContext.
//
// Metrics cover HTTP traffic and the authentication flow: login initiations
// and outcomes, token exchange latency, provisioning counts, and session
// store operations.
//
// # Usage Example
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant", tid).Info("tenant admitted")
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveLogin("authenticated")
//
// # Related Packages
//
//   - pkg/authflow: Records flow outcomes through Metrics
//   - pkg/web: Wraps the router with MetricsMiddleware
package observability
