package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/songsync-app/songsync/internal/remote"
)

// subscriber wraps a websocket connection with a write lock. The websocket
// package permits at most one concurrent writer per connection, and
// broadcasts can arrive from concurrent push handlers.
type subscriber struct {
	conn *websocket.Conn

	mu sync.Mutex
}

func (s *subscriber) send(ev remote.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// changeHub fans change events out to connected websocket subscribers.
// Broadcast is called after the record store transaction commits, so
// subscribers never learn about a write before it is durable.
type changeHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]bool
}

func newChangeHub(logger *slog.Logger) *changeHub {
	return &changeHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*subscriber]bool),
	}
}

// handleSubscribe upgrades the request and keeps the connection registered
// until the peer goes away.
func (h *changeHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	sub := &subscriber{conn: conn}
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()

	// Drain control frames; an error means the peer disconnected.
	go func() {
		defer h.drop(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *changeHub) drop(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.conn.Close()
}

// broadcast sends an event to every subscriber, dropping dead connections.
func (h *changeHub) broadcast(ev remote.ChangeEvent) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.send(ev); err != nil {
			h.drop(sub)
		}
	}
}

// closeAll disconnects every subscriber (used on shutdown).
func (h *changeHub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscriber]bool)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.conn.Close()
	}
}
