// Package navigation implements the navigation stack: the history of
// entries the user can go back through.
//
// The stack decides the order of lifecycle moves and the Transitions
// implementation performs them. After every operation exactly one entry,
// the top, is in the foreground; entries beneath it are paused or stopped.
// The bottom entry is home and is never popped.
//
// Result slots pair a caller with the instance it launched. A slot is
// consumed by its first delivery, so a result reaches its caller at most
// once whether the callee finishes, is popped, crashes or is cleared.
package navigation
