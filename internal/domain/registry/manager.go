package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Manager is the package registry: the merged view of built-in and installed packages
type Manager struct {
	layout  paths.Layout
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu        sync.RWMutex
	packages  map[string]*types.Package
	ordered   []*types.Package
	builtin   map[string]bool // IDs present in the built-in location
	skipped   int
	lastScan  *time.Time
	listeners []func()
}

// NewManager creates a registry over layout. Call Scan before use.
func NewManager(layout paths.Layout, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		layout:   layout,
		logger:   logger,
		packages: make(map[string]*types.Package),
		builtin:  make(map[string]bool),
	}
}

// WithMetrics attaches a metrics collector
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// OnChange registers a callback run after every successful scan
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Scan rebuilds the registry from both locations.
// Installed copies shadow built-in copies of the same id.
func (m *Manager) Scan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	builtin, err := m.scanLocation(types.LocationBuiltin, m.layout.Builtin())
	if err != nil {
		return fmt.Errorf("failed to scan builtin apps: %w", err)
	}
	installed, err := m.scanLocation(types.LocationInstalled, m.layout.Apps())
	if err != nil {
		return fmt.Errorf("failed to scan installed apps: %w", err)
	}

	merged := make(map[string]*types.Package, len(builtin.packages)+len(installed.packages))
	builtinIDs := make(map[string]bool, len(builtin.packages))
	for id, pkg := range builtin.packages {
		p := pkg
		merged[id] = &p
		builtinIDs[id] = true
	}
	for id, pkg := range installed.packages {
		p := pkg
		p.Overrides = builtinIDs[id]
		merged[id] = &p
	}

	ordered := make([]*types.Package, 0, len(merged))
	for _, p := range merged {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.InstalledAt.Equal(b.InstalledAt) {
			return a.InstalledAt.Before(b.InstalledAt)
		}
		return a.ID < b.ID
	})

	now := time.Now()
	m.mu.Lock()
	m.packages = merged
	m.ordered = ordered
	m.builtin = builtinIDs
	m.skipped = builtin.skipped + installed.skipped
	m.lastScan = &now
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	m.metrics.SetPackages(len(builtin.packages), len(installed.packages))
	m.logger.Info("registry scanned",
		zap.Int("packages", len(merged)),
		zap.Int("builtin", len(builtin.packages)),
		zap.Int("installed", len(installed.packages)),
		zap.Int("skipped", builtin.skipped+installed.skipped))

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Invalidate drops cached state after the installer changed id and rescans
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	m.logger.Debug("invalidated", zap.String("package", id))
	return m.Scan(ctx)
}

// List returns all packages ordered by install time, ties by id
func (m *Manager) List() []types.Package {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Package, len(m.ordered))
	for i, p := range m.ordered {
		out[i] = p.Clone()
	}
	return out
}

// ListCategory returns the packages of one category
func (m *Manager) ListCategory(category string) []types.Package {
	var out []types.Package
	for _, p := range m.List() {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the package with the given id
func (m *Manager) Get(id string) (types.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.packages[id]
	if !ok {
		return types.Package{}, types.NotFoundf("package %s", id)
	}
	return p.Clone(), nil
}

// HasBuiltin reports whether a built-in copy of id exists, shadowed or not
func (m *Manager) HasBuiltin(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.builtin[id]
}

// FindEntryPoints returns the entry points answering f in ranked order
func (m *Manager) FindEntryPoints(f types.Filter) []types.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*types.Package
	if f.Package != "" {
		if p, ok := m.packages[f.Package]; ok {
			candidates = append(candidates, p)
		}
	} else {
		candidates = m.ordered
	}

	var matches []types.Match
	for _, p := range candidates {
		for _, entry := range p.EntryPoints {
			ok, explicit := matchEntry(entry, f)
			if !ok {
				continue
			}
			e := entry
			e.Filters = append([]types.IntentFilter(nil), entry.Filters...)
			matches = append(matches, types.Match{
				PackageID: p.ID,
				Entry:     e,
				Location:  p.Location,
				Explicit:  explicit || f.Package != "",
			})
		}
	}
	sortMatches(matches)
	return matches
}

// Launcher returns the first package that can act as the home launcher
func (m *Manager) Launcher() (types.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *types.Package
	for _, p := range m.ordered {
		if !p.IsLauncher() {
			continue
		}
		// Prefer installed launchers, then lexical id
		if found == nil ||
			(p.Location == types.LocationInstalled && found.Location != types.LocationInstalled) ||
			(p.Location == found.Location && p.ID < found.ID) {
			found = p
		}
	}
	if found == nil {
		return types.Package{}, types.NotFoundf("launcher")
	}
	return found.Clone(), nil
}

// Stats returns registry statistics
func (m *Manager) Stats() types.RegistryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.RegistryStats{
		TotalPackages: len(m.ordered),
		Skipped:       m.skipped,
		Categories:    make(map[string]int),
		LastScan:      m.lastScan,
	}
	for _, p := range m.ordered {
		switch p.Location {
		case types.LocationBuiltin:
			stats.Builtin++
		case types.LocationInstalled:
			stats.Installed++
		}
		if p.Overrides {
			stats.Overrides++
		}
		stats.Categories[p.Category]++
	}
	return stats
}

// Layout returns the directory layout the registry scans
func (m *Manager) Layout() paths.Layout {
	return m.layout
}
