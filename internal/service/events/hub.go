// Package events fans chat changes out to live-feed websocket clients.
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/gamechat/backend/internal/logging"
	"github.com/zhouzirui/gamechat/backend/internal/metrics"
	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

// EventType names a change in the chat store.
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSessionDeleted EventType = "session.deleted"
	EventMessageCreated EventType = "message.created"
)

// Event is the payload written to subscribers.
type Event struct {
	Type      EventType                        `json:"type"`
	SessionID string                           `json:"sessionId"`
	Session   *chat.Session                    `json:"session,omitempty"`
	Message   *chat.MessageWithRecommendations `json:"message,omitempty"`
	Timestamp time.Time                        `json:"ts"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Hub tracks connected clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logging.With("events-hub"),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client. It must be called at most once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		// lifecycle changes go first so a broadcast never sees a stale set
		select {
		case client := <-h.register:
			h.add(client)
			continue
		case client := <-h.unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			closed := h.closeAll()
			h.log.Info().
				Int("clients_closed", closed).
				Msg("event hub stopped")
			return ctx.Err()
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Publish queues event for delivery. Events are dropped when the queue is
// full.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn().Str("event", string(event.Type)).Msg("event queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.EventSubscribers.Set(float64(count))
	h.log.Debug().Uint64("client", client.id).Int("total_clients", count).Msg("event client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.EventSubscribers.Set(float64(count))
	h.log.Debug().Uint64("client", client.id).Int("total_clients", count).Msg("event client disconnected")
}

// deliver sends event to every interested client in connection order. A
// client whose buffer is full is disconnected.
func (h *Hub) deliver(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var slow []*Client
	for _, client := range clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- event:
		default:
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		close(client.send)
		delete(h.clients, client)
		h.log.Warn().Uint64("client", client.id).Msg("dropping slow event client")
	}
	if len(slow) > 0 {
		metrics.EventSubscribers.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.EventSubscribers.Set(0)
	return n
}
