package realtime

import (
	"log/slog"
	"sync"

	"warden/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
)

// Hub fans session events out to every connected device of a user.
// It implements session.Notifier.
type Hub struct {
	log *slog.Logger

	connected prometheus.Gauge
	dropped   prometheus.Counter

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	closed  bool
}

var _ session.Notifier = (*Hub)(nil)

// NewHub constructs a Hub. reg may be nil.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log: log,
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "ws",
			Name:      "dropped_total",
			Help:      "Clients dropped because their send queue was full.",
		}),
		clients: make(map[string]map[*Client]struct{}),
	}
	if reg != nil {
		reg.MustRegister(h.connected, h.dropped)
	}
	return h
}

// Subscribe registers c for its user's events. It reports false once the
// hub has been shut down.
func (h *Hub) Subscribe(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.connected.Inc()
	return true
}

// Unsubscribe removes c. Safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c)
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	h.connected.Dec()
}

// Publish never blocks: a client whose queue is full is dropped.
func (h *Hub) Publish(userID string, ev session.Event) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case <-c.Done():
		case c.Send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range slow {
		h.remove(c)
		h.dropped.Inc()
		c.Close()
		h.log.Warn("ws.client.drop", "client_id", c.ID, "user_id", userID, "event", ev.Type)
	}
	h.mu.Unlock()
}

// Count returns the number of connected clients for userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Shutdown closes every client and rejects new subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for userID, set := range h.clients {
		for c := range set {
			c.Close()
			h.connected.Dec()
		}
		delete(h.clients, userID)
	}
}
