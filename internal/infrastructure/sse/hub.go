package sse

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/escrow-hub/escrow-hub/internal/metrics"
)

var ErrChannelFull = errors.New("sse client channel full")

// Update is one campaign change pushed to stream clients.
type Update struct {
	Event       string      `json:"event"`
	CampaignRef uuid.UUID   `json:"campaignRef"`
	Data        interface{} `json:"data,omitempty"`
}

// Client is one connected stream consumer. A nil CampaignRef subscribes to
// every campaign.
type Client struct {
	ID          string
	CampaignRef *uuid.UUID
	Ch          chan *Update

	closeOnce sync.Once
}

func NewClient(id string, campaignRef *uuid.UUID, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, CampaignRef: campaignRef, Ch: make(chan *Update, buffer)}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Ch) })
}

// Hub fans campaign updates out to SSE clients. A slow client drops updates
// instead of blocking the broadcaster; the mirror remains the source of
// truth, the stream is a hint to refetch.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	metrics.SSEClients.Set(float64(len(h.clients)))
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
	metrics.SSEClients.Set(float64(len(h.clients)))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers the update to every client subscribed to its campaign.
func (h *Hub) Broadcast(update *Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.CampaignRef != nil && *c.CampaignRef != update.CampaignRef {
			continue
		}
		trySend(c, update)
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
	metrics.SSEClients.Set(0)
}

func trySend(c *Client, update *Update) bool {
	select {
	case c.Ch <- update:
		return true
	default:
		return false
	}
}
