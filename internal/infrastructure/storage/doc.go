// Package storage probes free space on the package volume so installs fail
// cleanly with ErrStorageExhausted instead of leaving partial trees behind.
package storage
