// Package websocket fans daily_stars changes out to subscribed devices.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is one change-feed notification. Payload carries the changed row.
type Message struct {
	Type    string          `json:"type"`
	Entity  string          `json:"entity"`
	Action  string          `json:"action"`
	ChildID string          `json:"child_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a Message whose Type is derived from entity and action.
func NewMessage(entity, action, childID string, payload any) (Message, error) {
	msg := Message{
		Type:    fmt.Sprintf("%s_%s", entity, action),
		Entity:  entity,
		Action:  action,
		ChildID: childID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Hub tracks connected subscribers and broadcasts messages to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("subscriber connected", "child_id", c.childID, "subscribers", n)
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast delivers msg to every subscriber whose child filter matches.
// Subscribers with a full buffer miss the message; the next full sync
// recovers it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(msg.ChildID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("subscriber buffer full, dropping message", "type", msg.Type, "child_id", msg.ChildID)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
