// Package scheduler provides the cooperative loop that owns the lifecycle
// controller.
//
// The loop ticks Frame and Step at a fixed interval and runs closures posted
// through Do between ticks, so HTTP handlers, the installer and the registry
// watcher never touch the controller from their own goroutines. When a memory
// floor is configured the loop samples free memory with gopsutil and reclaims
// one background instance per sample while below it.
package scheduler
