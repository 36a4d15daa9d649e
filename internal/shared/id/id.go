// Package id provides centralized ID generation for the runtime.
//
// Runtime objects are identified by prefixed ULIDs:
//   - Sortable: IDs of instances created later compare greater, even within
//     the same millisecond (monotonic entropy)
//   - Prefixed types: inst_*, task_*, timer_*, nav_* make logs readable
//   - Type safety: Separate types prevent passing a task ID where an
//     instance ID is expected
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// InstanceID identifies a running instance of an entry point
type InstanceID string

// TaskID identifies a background unit of work
type TaskID string

// TimerID identifies a periodic callback registered by an instance
type TimerID string

// EntryID identifies a navigation stack entry
type EntryID string

const (
	InstancePrefix = "inst"
	TaskPrefix     = "task"
	TimerPrefix    = "timer"
	EntryPrefix    = "nav"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates monotonic ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic ordering
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests pass a deterministic reader.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewInstanceID generates a new instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewTaskID generates a new background task ID
func NewTaskID() TaskID {
	return TaskID(Default().GenerateWithPrefix(TaskPrefix))
}

// NewTimerID generates a new timer ID
func NewTimerID() TimerID {
	return TimerID(Default().GenerateWithPrefix(TimerPrefix))
}

// NewEntryID generates a new navigation entry ID
func NewEntryID() EntryID {
	return EntryID(Default().GenerateWithPrefix(EntryPrefix))
}

func (id InstanceID) String() string { return string(id) }
func (id TaskID) String() string     { return string(id) }
func (id TimerID) String() string    { return string(id) }
func (id EntryID) String() string    { return string(id) }

// ============================================================================
// Parsing
// ============================================================================

// Split separates a prefixed ID into its prefix and ULID parts
func Split(s string) (prefix string, raw string, ok bool) {
	prefix, raw, ok = strings.Cut(s, "_")
	if !ok {
		return "", "", false
	}
	return prefix, raw, IsValid(raw)
}

// IsValid checks if a string is a valid ULID
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed or bare ID
func Timestamp(s string) (time.Time, error) {
	if _, raw, ok := strings.Cut(s, "_"); ok {
		s = raw
	}
	parsed, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
