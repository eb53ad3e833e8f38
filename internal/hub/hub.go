package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"telemetry-hub/internal/metrics"
	"telemetry-hub/internal/models"
)

// Hub maintains the set of active websocket clients and broadcasts
// monitor events to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run broadcasts every event until ctx is done or events is closed. On
// return every client is disconnected.
func (h *Hub) Run(ctx context.Context, events <-chan models.Event) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client registered: %s", client.addr())

		case client := <-h.unregister:
			h.remove(client, "unregistered")

		case e, ok := <-events:
			if !ok {
				return
			}
			message, err := json.Marshal(models.Wrap(e))
			if err != nil {
				log.Printf("Error marshalling %s for broadcast: %v", e.EventType(), err)
				continue
			}
			h.broadcast(message)
		}
	}
}

func (h *Hub) broadcast(message []byte) {
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()
	for _, client := range slow {
		metrics.EventsDropped.WithLabelValues("websocket").Inc()
		h.remove(client, "removed, send buffer full")
	}
}

func (h *Hub) remove(client *Client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		log.Printf("WebSocket client %s: %s", reason, client.addr())
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
	}
	h.mu.Unlock()
	close(h.done)
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
