// Package websocket pushes domain events to the connected sessions of the
// user they concern.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"agentdesk/internal/events"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

// Unregister is safe to call more than once for the same client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[client.userID]
	if set == nil {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// BroadcastEvent queues the event on every session of userID. Slow sessions
// miss the event rather than blocking the caller.
func (h *Hub) BroadcastEvent(userID string, event events.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
			sent++
		default:
		}
	}
	return sent
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Deliver(_ context.Context, event events.Event) error {
	if event.UserID == "" {
		return nil
	}
	h.BroadcastEvent(event.UserID, event)
	return nil
}
