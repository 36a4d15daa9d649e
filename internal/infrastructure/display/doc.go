// Package display provides the toolkit used when no rendering backend is
// attached. It keeps the foreground handoff observable for the admin API and
// for tests.
package display
