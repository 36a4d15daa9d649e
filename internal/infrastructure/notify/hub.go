package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 64

// Hub fans runtime notifications out to subscribers.
// Slow subscribers lose notifications rather than stalling the loop.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan types.Notification
	next    uint64
	recent  []types.Notification
	keep    int
	dropped uint64
	logger  *zap.Logger
}

// NewHub creates a hub retaining the last keep notifications
func NewHub(keep int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uint64]chan types.Notification),
		keep:   keep,
		logger: logger,
	}
}

// Notify publishes n to every subscriber without blocking
func (h *Hub) Notify(n types.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.keep > 0 {
		h.recent = append(h.recent, n)
		if len(h.recent) > h.keep {
			h.recent = h.recent[len(h.recent)-h.keep:]
		}
	}

	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.dropped++
		}
	}

	h.logger.Debug("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("package", n.Package),
		zap.String("message", n.Message))
}

// Subscribe registers a new subscriber and returns its channel and a cancel func
func (h *Hub) Subscribe() (<-chan types.Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan types.Notification, DefaultBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Recent returns the retained notifications, oldest first
func (h *Hub) Recent() []types.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]types.Notification(nil), h.recent...)
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped on full subscriber queues
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
