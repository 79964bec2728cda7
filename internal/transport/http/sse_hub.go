package http

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/dispatch"
	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/store"
)

// Event names sent on the surface stream.
const (
	EventChange = "change"
	EventEffect = "effect"
	EventSignal = "signal"
	EventStream = "stream"
)

// Client represents a connected SSE client of the surface panel.
type Client struct {
	id   uint64
	send chan []byte
}

// Hub fans engine output out to the surface's SSE clients: store changes,
// delivery effects (toast, sound, haptic, push) and signals. It also holds
// the presence the surface reports, which the dispatcher reads as its Host.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
	nextID  uint64

	hidden        atomic.Bool
	pushPermitted atomic.Bool
}

var (
	_ dispatch.Host   = (*Hub)(nil)
	_ domain.Reporter = (*Hub)(nil)
)

// NewHub creates a new SSE Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uint64]*Client)}
}

// Register adds a new SSE client.
func (h *Hub) Register(send chan []byte) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &Client{id: h.nextID, send: send}
	h.clients[c.id] = c
	log.Debug().Uint64("client", c.id).Msg("SSE client connected")
	return c
}

// Unregister removes an SSE client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	log.Debug().Uint64("client", c.id).Msg("SSE client disconnected")
}

// Broadcast sends one named event to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	msg, err := buildSSEMessage(event, payload)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("SSE payload encoding failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client is slow/disconnected, skip
			log.Warn().Uint64("client", c.id).Str("event", event).Msg("SSE client send buffer full, skipping")
		}
	}
}

// ConnectedCount returns the number of connected SSE clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Follow broadcasts store changes until ctx is done or the channel closes.
func (h *Hub) Follow(ctx context.Context, changes <-chan store.Change) {
	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			h.Broadcast(EventChange, c)
		case <-ctx.Done():
			return
		}
	}
}

type effect struct {
	Channel      domain.Channel `json:"channel"`
	Notification domain.Record  `json:"notification"`
}

// Sinks returns a delivery sink per channel; each one announces the effect
// to the surface, which renders the toast, plays the sound and so on.
func (h *Hub) Sinks() map[domain.Channel]dispatch.Sink {
	sinks := make(map[domain.Channel]dispatch.Sink, len(domain.Channels))
	for _, ch := range domain.Channels {
		sinks[ch] = dispatch.SinkFunc(func(_ context.Context, r domain.Record) error {
			h.Broadcast(EventEffect, effect{Channel: ch, Notification: r})
			return nil
		})
	}
	return sinks
}

// Report implements domain.Reporter.
func (h *Hub) Report(s domain.Signal) {
	h.Broadcast(EventSignal, s)
}

// SetPresence records whether the surface is hidden and whether the user
// granted OS notification permission.
func (h *Hub) SetPresence(hidden, pushPermitted bool) {
	h.hidden.Store(hidden)
	h.pushPermitted.Store(pushPermitted)
}

// Hidden implements dispatch.Host.
func (h *Hub) Hidden() bool { return h.hidden.Load() }

// PushPermitted implements dispatch.Host.
func (h *Hub) PushPermitted() bool { return h.pushPermitted.Load() }

// buildSSEMessage formats payload as a named SSE frame.
func buildSSEMessage(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event + "\ndata: " + string(b) + "\n\n"), nil
}
