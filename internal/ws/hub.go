package ws

import (
	"encoding/json"
	"sync"
)

// Hub tracks which clients are attached to which conversation, for typing
// and presence fan-out. Message delivery itself rides each client's own
// sync-engine listener, not the hub.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool // conversationID -> clients
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

func (h *Hub) Join(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][c] = true
}

func (h *Hub) Leave(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[conversationID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Broadcast sends an envelope to every client in the conversation, skipping
// the sender.
func (h *Hub) Broadcast(conversationID string, from *Client, env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[conversationID] {
		if c == from {
			continue
		}
		c.Enqueue(b)
	}
}
