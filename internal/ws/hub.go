package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/metrics"
)

// Options tune every connection the hub accepts
type Options struct {
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageSize    int64
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:        256,
		MessagesPerSecond: messagesPerSecond,
		MessageBurst:      messageBurst,
		MaxMessageSize:    maxMessageSize,
	}
}

// The set of open connections, keyed by connection ID. It is the
// dispatcher's directory for outbound frames.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex

	opts Options
	log  *slog.Logger
}

func NewHub(logger *slog.Logger, opts Options) *Hub {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = def.MessagesPerSecond
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = def.MessageBurst
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	return &Hub{
		clients: make(map[string]*Client),
		opts:    opts,
		log:     logger,
	}
}

// Run blocks until ctx is cancelled, then closes every connection
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeSend()
	}
	h.log.Info("hub.stopped", "closed", len(clients))
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	h.log.Info("hub.register", "conn", c.id, "total", count)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.closeSend()
	if ok {
		metrics.ConnectionsActive.Dec()
		h.log.Info("hub.unregister", "conn", c.id, "remaining", count)
	}
}

// Sender implements broadcast.Directory
func (h *Hub) Sender(connID string) (broadcast.Sender, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return nil, false
	}
	return c, true
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
