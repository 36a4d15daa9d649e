// Package types provides the shared data model of the application runtime.
//
// This package defines the values exchanged between the registry, installer,
// resolver, lifecycle controller and navigation stack, together with the
// error taxonomy every component reports through.
//
// Core Types:
//   - Package: Installed or built-in application bundle
//   - EntryPoint: Named launch target declared by a package
//   - IntentFilter: Action/category/data-type tags an entry point answers
//   - LaunchRequest: Explicit or implicit targeting intent
//   - Resolution: Concrete entry point chosen for a request
//   - Result: Payload returned to a caller awaiting a result slot
//
// State Management:
//   - State: Lifecycle state of a running instance
//   - RuntimeStats, RegistryStats: Snapshot statistics
//
// Errors:
//   - ErrNotFound, ErrAmbiguous, ErrInvalidBundle, ErrStorageExhausted
//   - ErrIllegalTransition, ErrResourceLeak
//
// Example Usage:
//
//	req := types.Explicit("com.example.gallery", "Viewer")
//	req.ExpectResult = true
//	req.ResultSlot = 7
package types
