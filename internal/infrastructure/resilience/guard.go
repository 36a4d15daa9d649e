package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// State represents the guard state of one package
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the crash-loop guard
type Settings struct {
	// Limit is the number of crashes within Window that opens the guard
	Limit int
	// Window is the sliding period crashes are counted over
	Window time.Duration
	// Cooldown is the period launches are refused once open
	Cooldown time.Duration
	// OnStateChange is called whenever a package changes state
	OnStateChange func(pkg string, from State, to State)
	// Now overrides the clock in tests
	Now func() time.Time
}

type entry struct {
	state   State
	crashes []time.Time
	expiry  time.Time
	trial   bool
}

// Guard refuses launches of packages that crash repeatedly
type Guard struct {
	settings Settings

	mu       sync.Mutex
	packages map[string]*entry
}

// NewGuard creates a guard with the given settings
func NewGuard(settings Settings) *Guard {
	if settings.Limit <= 0 {
		settings.Limit = 3
	}
	if settings.Window <= 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	return &Guard{
		settings: settings,
		packages: make(map[string]*entry),
	}
}

// Allow reports whether pkg may be launched now.
// After the cooldown exactly one trial launch is admitted.
func (g *Guard) Allow(pkg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.packages[pkg]
	if !ok {
		return nil
	}

	now := g.settings.Now()
	switch e.state {
	case StateOpen:
		if now.Before(e.expiry) {
			return fmt.Errorf("%s refused until %s: %w", pkg, e.expiry.Format(time.RFC3339), types.ErrCrashLoop)
		}
		g.setState(pkg, e, StateHalfOpen)
		e.trial = true
		return nil
	case StateHalfOpen:
		if e.trial {
			return fmt.Errorf("%s trial launch in progress: %w", pkg, types.ErrCrashLoop)
		}
		e.trial = true
	}
	return nil
}

// Crash records a forced destruction of one of pkg's instances
func (g *Guard) Crash(pkg string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.settings.Now()
	e := g.entry(pkg)

	if e.state == StateHalfOpen {
		e.trial = false
		e.expiry = now.Add(g.settings.Cooldown)
		g.setState(pkg, e, StateOpen)
		return
	}

	e.crashes = append(prune(e.crashes, now.Add(-g.settings.Window)), now)
	if e.state == StateClosed && len(e.crashes) >= g.settings.Limit {
		e.expiry = now.Add(g.settings.Cooldown)
		g.setState(pkg, e, StateOpen)
	}
}

// Healthy records that pkg reached the foreground without crashing
func (g *Guard) Healthy(pkg string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.packages[pkg]
	if !ok || e.state != StateHalfOpen {
		return
	}
	e.trial = false
	e.crashes = nil
	g.setState(pkg, e, StateClosed)
}

// State returns the current state of pkg
func (g *Guard) State(pkg string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.packages[pkg]; ok {
		return e.state
	}
	return StateClosed
}

// Reset forgets the crash history of pkg, used after reinstall
func (g *Guard) Reset(pkg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.packages, pkg)
}

// Open returns the packages currently refused
func (g *Guard) Open() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for pkg, e := range g.packages {
		if e.state == StateOpen {
			out = append(out, pkg)
		}
	}
	return out
}

func (g *Guard) entry(pkg string) *entry {
	e, ok := g.packages[pkg]
	if !ok {
		e = &entry{}
		g.packages[pkg] = e
	}
	return e
}

func (g *Guard) setState(pkg string, e *entry, to State) {
	if e.state == to {
		return
	}
	from := e.state
	e.state = to
	if g.settings.OnStateChange != nil {
		g.settings.OnStateChange(pkg, from, to)
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
