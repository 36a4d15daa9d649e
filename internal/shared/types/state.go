package types

// State represents instance lifecycle states
type State int

const (
	StateNone State = iota
	StateCreated
	StateStarted
	StateResumed
	StatePaused
	StateStopped
	StateDestroyed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateResumed:
		return "resumed"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the state belongs to an instance that has not been destroyed
func (s State) Live() bool {
	return s > StateNone && s < StateDestroyed
}

// RuntimeStats contains lifecycle controller statistics
type RuntimeStats struct {
	LiveInstances  int     `json:"live_instances"`
	StackDepth     int     `json:"stack_depth"`
	Background     int     `json:"background"` // Persistent instances detached from the stack
	PendingTasks   int     `json:"pending_tasks"`
	PendingSlots   int     `json:"pending_slots"`
	ForegroundID   *string `json:"foreground_id,omitempty"`
	ForegroundPkg  *string `json:"foreground_package,omitempty"`
	HomeInstanceID *string `json:"home_instance_id,omitempty"`
}
