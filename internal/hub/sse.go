package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client represents a connected SSE client
type Client struct {
	id     string
	events chan []byte
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event any) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info("SSE client connected", zap.String("client", c.id), zap.Int("total", n))
}

func (h *Hub) removeClient(c *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.events)
	}
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info("SSE client disconnected", zap.String("client", c.id), zap.Int("total", n))
}

func (h *Hub) closeClients() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.events)
	}
}

func (h *Hub) fanOut(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}
	msg := []byte(fmt.Sprintf("data: %s\n\n", data))

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.events <- msg:
		default:
			h.logger.Debug("SSE client is slow, skipping message", zap.String("client", c.id))
		}
	}
}

// ServeHTTP streams broadcast events to one SSE client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &Client{
		id:     fmt.Sprintf("%d", time.Now().UnixNano()),
		events: make(chan []byte, 64),
	}

	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "hub stopped", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
