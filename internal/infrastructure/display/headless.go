package display

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Headless is an in-memory toolkit that tracks root containers and the
// mounted foreground without drawing anything.
type Headless struct {
	mu      sync.RWMutex
	roots   map[string]string // root handle -> owner instance
	mounted string
	seq     uint64
	mounts  uint64
	logger  *zap.Logger
}

// NewHeadless creates a headless toolkit
func NewHeadless(logger *zap.Logger) *Headless {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Headless{
		roots:  make(map[string]string),
		logger: logger,
	}
}

// CreateRoot allocates a root container owned by an instance
func (h *Headless) CreateRoot(owner string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	root := fmt.Sprintf("root-%d", h.seq)
	h.roots[root] = owner
	return root, nil
}

// Mount makes root the visible foreground, replacing any previous one
func (h *Headless) Mount(root string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.roots[root]; !ok {
		return fmt.Errorf("mount unknown root %s", root)
	}
	h.mounted = root
	h.mounts++
	h.logger.Debug("mounted", zap.String("root", root), zap.String("owner", h.roots[root]))
	return nil
}

// Unmount detaches root from the screen if it is mounted
func (h *Headless) Unmount(root string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mounted == root {
		h.mounted = ""
	}
	return nil
}

// Destroy frees root
func (h *Headless) Destroy(root string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.roots[root]; !ok {
		return fmt.Errorf("destroy unknown root %s", root)
	}
	if h.mounted == root {
		h.mounted = ""
	}
	delete(h.roots, root)
	return nil
}

// Mounted returns the mounted root and its owner
func (h *Headless) Mounted() (root, owner string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mounted, h.roots[h.mounted]
}

// Live returns the number of allocated roots
func (h *Headless) Live() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roots)
}

// Mounts returns how many times a root has been mounted
func (h *Headless) Mounts() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mounts
}
