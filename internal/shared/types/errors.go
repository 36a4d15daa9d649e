package types

import (
	"errors"
	"fmt"
	"strings"
)

// Recoverable errors, returned to callers for user-facing handling
var (
	ErrNotFound         = errors.New("not found")
	ErrAmbiguous        = errors.New("ambiguous launch request")
	ErrInvalidBundle    = errors.New("invalid bundle")
	ErrStorageExhausted = errors.New("storage exhausted")

	ErrDowngrade          = errors.New("version is older than the installed one")
	ErrReservedIdentifier = errors.New("identifier is in a reserved range")
	ErrBuiltinReadOnly    = errors.New("built-in package is read-only")
	ErrCrashLoop          = errors.New("package is crash looping")
	ErrHomeEntry          = errors.New("home entry cannot be popped")
	ErrPackageBusy        = errors.New("package is being replaced, retry shortly")
)

// Defects, reported as diagnostics after the offending instance is force-destroyed
var (
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
	ErrResourceLeak      = errors.New("resource leak detected")
)

// AmbiguousError carries the candidates of an implicit request with several matches
type AmbiguousError struct {
	Candidates []Match
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.PackageID + "/" + c.Entry.Name
	}
	return fmt.Sprintf("%s: %d candidates (%s)", ErrAmbiguous, len(e.Candidates), strings.Join(names, ", "))
}

// Is matches ErrAmbiguous
func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// BundleError describes why an install artifact was rejected
type BundleError struct {
	Path   string
	Reason string
	Err    error
}

func (e *BundleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", ErrInvalidBundle, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", ErrInvalidBundle, e.Path, e.Reason)
}

// Is matches ErrInvalidBundle
func (e *BundleError) Is(target error) bool {
	return target == ErrInvalidBundle
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

// TransitionError reports a lifecycle move outside the fixed order
type TransitionError struct {
	InstanceID string
	From       State
	To         State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: instance %s %s -> %s", ErrIllegalTransition, e.InstanceID, e.From, e.To)
}

// Is matches ErrIllegalTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// LeakError lists the resources an instance still owned after destruction
type LeakError struct {
	InstanceID string
	Resources  map[string]int
}

func (e *LeakError) Error() string {
	parts := make([]string, 0, len(e.Resources))
	for kind, n := range e.Resources {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	return fmt.Sprintf("%s: instance %s still owns %s", ErrResourceLeak, e.InstanceID, strings.Join(parts, ", "))
}

// Is matches ErrResourceLeak
func (e *LeakError) Is(target error) bool {
	return target == ErrResourceLeak
}

// NotFoundf wraps ErrNotFound with a formatted subject
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// IsRecoverable reports whether an error is meant for user-facing handling rather than a defect
func IsRecoverable(err error) bool {
	return !errors.Is(err, ErrIllegalTransition) && !errors.Is(err, ErrResourceLeak)
}
