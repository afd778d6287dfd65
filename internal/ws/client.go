package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiwari-pos/kds/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Time allowed to build the initial board snapshot
	snapshotTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (we validate via JWT)
	},
}

// SnapshotFunc builds the event a display receives right after connecting,
// so it starts from the current board rather than an empty one.
type SnapshotFunc func(ctx context.Context, venueID uuid.UUID) (Event, error)

// Client represents a single display connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	venueID uuid.UUID
	send    chan []byte
}

// ReadPump pumps messages from the WebSocket connection to the hub
// The application runs ReadPump in a per-connection goroutine
// Displays never send commands over the socket - we just detect disconnects
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Read loop - we just wait for disconnect or errors
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "venue_id", c.venueID, "error", err)
			}
			break
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// The application runs WritePump in a per-connection goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles WebSocket requests from kitchen displays
// Endpoint: WS /ws/venues/{vid}/orders?token=JWT
func ServeWS(hub *Hub, jwtSecret string, snapshot SnapshotFunc, w http.ResponseWriter, r *http.Request) {
	// 1. Extract token from query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// 2. Validate JWT
	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// 3. Extract venue ID from URL
	venueID, err := uuid.Parse(chi.URLParam(r, "vid"))
	if err != nil {
		http.Error(w, "invalid venue id", http.StatusBadRequest)
		return
	}

	// 4. Verify venue access (OWNER can access any venue, others only their own)
	if !claims.Principal().CanAccessVenue(venueID) {
		http.Error(w, "venue access denied", http.StatusForbidden)
		return
	}

	// 5. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		venueID: venueID,
		send:    make(chan []byte, 256),
	}

	// 6. Register with hub and start pumps in separate goroutines
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()

	// 7. Send the board snapshot. Orders carry versions, so a display keeps
	// the newer copy when an update races the snapshot.
	if snapshot != nil {
		if err := sendSnapshot(r.Context(), client, snapshot); err != nil {
			slog.ErrorContext(r.Context(), "websocket snapshot failed", "venue_id", venueID, "error", err)
		}
	}
}

func sendSnapshot(ctx context.Context, c *Client, snapshot SnapshotFunc) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	event, err := snapshot(ctx, c.venueID)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.hub.sendTo(c, msg)
	return nil
}
