package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/metrics"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: b}, nil
}

// venueEvent is an internal struct for routing events to specific venues
type venueEvent struct {
	VenueID uuid.UUID
	Event   Event
}

type directMessage struct {
	client  *Client
	message []byte
}

// Hub maintains the set of connected displays and broadcasts messages to them
type Hub struct {
	// Registered clients by venue ID
	rooms map[uuid.UUID]map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *venueEvent

	// Outbound messages for a single client
	direct chan *directMessage

	// Closed when Run returns
	done chan struct{}

	metrics *metrics.Registry
	clients int

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMetrics reports the connected client count.
func WithMetrics(r *metrics.Registry) HubOption {
	return func(h *Hub) { h.metrics = r }
}

// NewHub creates a new Hub instance
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *venueEvent, 256),
		direct:     make(chan *directMessage),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop and closes every client when ctx ends.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for venueID, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, venueID)
			}
			h.clients = 0
			h.mu.Unlock()
			h.metrics.SetWSClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.venueID] == nil {
				h.rooms[client.venueID] = make(map[*Client]bool)
			}
			h.rooms[client.venueID][client] = true
			h.clients++
			n := h.clients
			h.mu.Unlock()
			h.metrics.SetWSClients(n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			n := h.clients
			h.mu.Unlock()
			h.metrics.SetWSClients(n)

		case dm := <-h.direct:
			h.mu.Lock()
			if h.rooms[dm.client.venueID][dm.client] {
				select {
				case dm.client.send <- dm.message:
				default:
					h.remove(dm.client)
				}
			}
			n := h.clients
			h.mu.Unlock()
			h.metrics.SetWSClients(n)

		case event := <-h.broadcast:
			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[event.VenueID] {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full; the display resyncs from a
					// fresh snapshot when it reconnects.
					h.remove(client)
				}
			}
			n := h.clients
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
		}
	}
}

// remove drops client from its room. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.venueID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	h.clients--
	// Clean up empty rooms
	if len(clients) == 0 {
		delete(h.rooms, client.venueID)
	}
}

// BroadcastToVenue sends an event to all displays subscribed to a venue.
// It never blocks once Run has returned.
func (h *Hub) BroadcastToVenue(venueID uuid.UUID, event Event) {
	select {
	case h.broadcast <- &venueEvent{VenueID: venueID, Event: event}:
	case <-h.done:
	}
}

// sendTo delivers message to one registered client.
func (h *Hub) sendTo(client *Client, message []byte) {
	select {
	case h.direct <- &directMessage{client: client, message: message}:
	case <-h.done:
	}
}

// ClientCount returns how many displays are connected to a venue.
func (h *Hub) ClientCount(venueID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[venueID])
}
