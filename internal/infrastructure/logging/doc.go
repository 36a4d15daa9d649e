// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Production mode samples repeated entries. The level is held in a
// zap.AtomicLevel served by the admin API at /log/level.
//
// Runtime components receive a named *zap.Logger through Component and tag
// entries with Package and Instance fields.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	reg := registry.NewManager(layout, logger.Component("registry"))
//	logger.Warn("manifest rejected", logging.Package(id), zap.Error(err))
package logging
