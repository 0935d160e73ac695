// Package broadcast fans payloads out to the connections registered in a room.
package broadcast

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/go-monolith/mono/pkg/types"
)

// Envelope is the frame written to websocket clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is the outbound side of one connection.
// The websocket writer drains Messages until Done is closed.
type Client struct {
	ID      string
	send    chan []byte
	done    chan struct{}
	closeMu sync.Once
}

// Messages returns the client's outbound queue.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Done is closed when the client is detached.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeMu.Do(func() { close(c.done) })
}

// enqueue never blocks. While the queue is full the oldest pending frame is
// dropped, so data is always queued. It returns the number of frames dropped.
func (c *Client) enqueue(data []byte) (dropped int) {
	for {
		select {
		case c.send <- data:
			return dropped
		default:
		}
		select {
		case <-c.send:
			dropped++
		default:
		}
	}
}

// Router delivers frames to room members as listed by the presence registry.
type Router struct {
	registry  presence.Registry
	queueSize int
	logger    types.Logger

	mu      sync.RWMutex
	clients map[string]*Client // connID -> Client

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewRouter creates a Router with the given per-connection queue size.
func NewRouter(registry presence.Registry, queueSize int, logger types.Logger) *Router {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Router{
		registry:  registry,
		queueSize: queueSize,
		logger:    logger,
		clients:   make(map[string]*Client),
	}
}

// Attach creates the outbound queue for a connection.
func (r *Router) Attach(connID string) *Client {
	client := &Client{
		ID:   connID,
		send: make(chan []byte, r.queueSize),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if old, ok := r.clients[connID]; ok {
		old.close()
	}
	r.clients[connID] = client
	r.mu.Unlock()

	r.logger.Debug("Client attached", "conn_id", connID)
	return client
}

// Detach removes a connection. Later broadcasts skip it.
func (r *Router) Detach(connID string) {
	r.mu.Lock()
	client, ok := r.clients[connID]
	if ok {
		delete(r.clients, connID)
	}
	r.mu.Unlock()

	if ok {
		client.close()
		r.logger.Debug("Client detached", "conn_id", connID)
	}
}

// Broadcast sends a frame to every current member of the room.
func (r *Router) Broadcast(roomID, msgType string, payload any) {
	data, ok := r.encode(msgType, payload)
	if !ok {
		return
	}

	members := r.registry.Members(roomID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, connID := range members {
		if client, ok := r.clients[connID]; ok {
			r.deliver(client, data)
		}
	}
}

// Send delivers a frame to a single connection.
func (r *Router) Send(connID, msgType string, payload any) {
	data, ok := r.encode(msgType, payload)
	if !ok {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if client, ok := r.clients[connID]; ok {
		r.deliver(client, data)
	}
}

func (r *Router) deliver(client *Client, data []byte) {
	if n := client.enqueue(data); n > 0 {
		r.dropped.Add(uint64(n))
		r.logger.Debug("Outbound queue full, dropped oldest frame", "conn_id", client.ID)
	}
	r.sent.Add(1)
}

func (r *Router) encode(msgType string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Envelope{Type: msgType, Payload: payload})
	if err != nil {
		r.logger.Error("Failed to marshal frame", "type", msgType, "error", err)
		return nil, false
	}
	return data, true
}

// CloseAll detaches every client.
func (r *Router) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// ClientCount returns the number of attached connections.
func (r *Router) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Stats returns delivery counters.
func (r *Router) Stats() (sent, dropped uint64) {
	return r.sent.Load(), r.dropped.Load()
}
