// Package resolver maps launch requests onto entry points.
//
// Explicit requests name a package and optionally an entry point; implicit
// requests are matched against the intent filters of every package. An
// implicit request answered by more than one entry point is reported as
// ambiguous with all candidates, in registry order, so the caller can let
// the user choose.
//
// Singleton entry points with a live instance resolve to that instance
// (Mode ReuseExisting) when a LiveIndex is attached.
package resolver
