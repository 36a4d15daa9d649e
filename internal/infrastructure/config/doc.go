// Package config loads runtime configuration from environment variables.
//
// Configuration is grouped by concern:
//   - Server: admin HTTP API address
//   - Runtime: loop cadence, background drain budget, crash-loop guard
//   - Storage: package root, reserved identifier prefixes, free-space reserve
//   - Logging: level and development mode
//   - RateLimit: admin API throttling
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	layout := paths.New(cfg.Storage.Root)
package config
