// Package middleware provides the gin middleware of the admin API.
//
// CORS:
//   - Loopback origins by default, any port
//   - "*" switches to allow-all without credentials
//
// Rate Limiting:
//   - Per-IP token buckets, dropped after IdleTTL without traffic
//   - Probe and metrics routes are exempt
//   - Global variant shares one bucket across clients
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
