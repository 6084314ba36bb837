package media

import "sync"

// Hub holds the bridges awaiting or serving a carrier connection, keyed by
// call id. The webhook path registers a bridge when a call is accepted; the
// media-stream handler claims it when the carrier connects.
type Hub struct {
	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{bridges: make(map[string]*Bridge)}
}

// Register makes the bridge reachable by call id.
func (h *Hub) Register(callID string, b *Bridge) {
	h.mu.Lock()
	h.bridges[callID] = b
	h.mu.Unlock()
}

// Get returns the bridge for a call id.
func (h *Hub) Get(callID string) (*Bridge, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bridges[callID]
	return b, ok
}

// Remove drops the bridge for a call id.
func (h *Hub) Remove(callID string) {
	h.mu.Lock()
	delete(h.bridges, callID)
	h.mu.Unlock()
}

// Len reports how many bridges are registered.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bridges)
}
