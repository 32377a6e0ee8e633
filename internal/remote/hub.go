package remote

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is how many undelivered changes a slow subscriber may
// accumulate before further changes to it are dropped.
const subscriberBuffer = 32

// Hub fans out committed changes to per-user subscribers. Delivery is best
// effort: a change is a hint to refetch, so dropping one for a slow
// subscriber loses nothing that the next fetch does not recover.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Change]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		subs:   make(map[string]map[chan Change]struct{}),
		logger: logger,
	}
}

// Subscribe registers a subscriber for userID's changes. The returned
// function unsubscribes; it is safe to call more than once. The channel is
// closed when the subscriber is removed or the hub is closed.
func (h *Hub) Subscribe(userID string) (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Change]struct{})
	}

	h.subs[userID][ch] = struct{}{}

	var once sync.Once

	return ch, func() {
		once.Do(func() { h.remove(userID, ch) })
	}
}

func (h *Hub) remove(userID string, ch chan Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[userID]
	if _, ok := set[ch]; !ok {
		return
	}

	delete(set, ch)
	close(ch)

	if len(set) == 0 {
		delete(h.subs, userID)
	}
}

// Publish delivers c to every subscriber of c.UserID without blocking.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[c.UserID] {
		select {
		case ch <- c:
		default:
			h.logger.Warn("change feed subscriber full, dropping change",
				slog.String("user_id", c.UserID),
				slog.String("date", c.Date.String()),
			)
		}
	}
}

// Subscribers returns the number of live subscribers for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[userID])
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for userID, set := range h.subs {
		for ch := range set {
			close(ch)
		}

		delete(h.subs, userID)
	}
}
