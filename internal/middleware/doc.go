// Package middleware provides the gin middleware of the runner's HTTP surface.
//
//   - CORS: lets dashboards read /health and /metrics from another origin
//   - RateLimit: per-client token bucket for the operational endpoints
//   - RequestLogger: request id propagation and zap access logging
//
// Example:
//
//	router.Use(middleware.RequestLogger(logger))
//	ops := router.Group("/", middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
