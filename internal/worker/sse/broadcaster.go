// Package sse streams server-sent events to connected dashboards.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultHeartbeat is how often idle connections receive a comment line.
const DefaultHeartbeat = 25 * time.Second

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	mu      sync.Mutex
}

// write sends one frame. Writes to a client are serialized so heartbeats and
// broadcasts never interleave.
func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Writer.Write(frame); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients   map[string]*Client
	logger    zerolog.Logger
	heartbeat time.Duration
	mu        sync.RWMutex
	nextID    int
	sent      int64
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]*Client),
		logger:    logger.With().Str("component", "sse").Logger(),
		heartbeat: DefaultHeartbeat,
	}
}

// AddClient registers w as a stream.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Debug().Str("client_id", client.ID).Int("clients", count).Msg("SSE client connected")
	return client, nil
}

// RemoveClient unregisters a client. It is safe to call more than once.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	_, exists := b.clients[client.ID]
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	if !exists {
		return
	}
	close(client.Done)
	b.logger.Debug().Str("client_id", client.ID).Int("clients", count).Msg("SSE client disconnected")
}

// Broadcast sends ev to every connected client. Clients whose connection
// fails are dropped.
func (b *Broadcaster) Broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal SSE event")
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var dead []*Client
	for _, c := range clients {
		select {
		case <-c.Done:
			continue
		default:
		}
		if err := c.write(frame); err != nil {
			b.logger.Debug().Err(err).Str("client_id", c.ID).Msg("SSE write failed, dropping client")
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		b.RemoveClient(c)
	}

	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
}

// CloseAll disconnects every client. Streams never go idle on their own,
// so this must run before an HTTP server shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// EventsSent returns how many events were broadcast.
func (b *Broadcaster) EventsSent() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sent
}

// HandleSSE serves one event stream until the client goes away.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(Event{Type: "connected", Data: map[string]string{"client_id": client.ID}})
	if err := client.write([]byte(fmt.Sprintf("event: connected\ndata: %s\n\n", hello))); err != nil {
		return
	}

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			if err := client.write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
	}
}
