// Package main is the entry point of the application runtime daemon.
//
// The daemon hosts the lifecycle controller on a single loop, keeps the
// package registry in sync with storage and exposes an admin API for
// installing, launching and inspecting applications.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Serve a storage root, seeding built-in apps from ./apps
//	./appruntime -root /var/lib/appruntime -seed ./apps
//
//	# Development mode (colored logs, debug level, leak checks)
//	./appruntime -dev -debug-leaks -watch
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
