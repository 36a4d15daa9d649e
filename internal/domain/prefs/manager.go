package prefs

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Manager hands out shared stores so every instance of a package sees the same values
type Manager struct {
	dataRoot string
	logger   *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store // "<pkg>/<file>"
}

// NewManager creates a manager over the data root
func NewManager(dataRoot string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dataRoot: dataRoot,
		logger:   logger,
		stores:   make(map[string]*Store),
	}
}

// Open returns the store for pkg/file, loading it on first use
func (m *Manager) Open(pkg, file string) (*Store, error) {
	if file == "" {
		file = DefaultFile
	}
	key := pkg + "/" + file

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[key]; ok {
		return s, nil
	}
	s, err := Open(m.dataRoot, pkg, file, nil)
	if err != nil {
		return nil, err
	}
	m.stores[key] = s
	m.logger.Debug("opened preferences", zap.String("package", pkg), zap.String("file", file))
	return s, nil
}

// Forget drops the cached stores of pkg after its data changed underneath
func (m *Manager) Forget(pkg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.stores {
		if strings.HasPrefix(key, pkg+"/") {
			delete(m.stores, key)
		}
	}
}
