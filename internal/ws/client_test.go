package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiwari-pos/kds/internal/auth"
)

const testSecret = "test-secret"

func wsServer(t *testing.T, hub *Hub, snapshot SnapshotFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/ws/venues/{vid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, testSecret, snapshot, w, r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, venueID uuid.UUID, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/venues/" + venueID.String() + "/orders?token=" + token
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return ev
}

func TestServeWS_SnapshotThenBroadcast(t *testing.T) {
	hub := startHub(t)
	venueID := uuid.New()
	snapshot := func(ctx context.Context, vid uuid.UUID) (Event, error) {
		return NewEvent("orders.snapshot", map[string]any{"venue_id": vid, "orders": []any{}})
	}
	srv := wsServer(t, hub, snapshot)

	token, _ := auth.GenerateToken(testSecret, auth.Principal{ID: uuid.New(), VenueID: venueID, Role: "KITCHEN"}, time.Hour)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, venueID, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Type != "orders.snapshot" {
		t.Fatalf("first event: got %q, want orders.snapshot", ev.Type)
	}

	hub.BroadcastToVenue(venueID, Event{Type: "order.updated", Payload: json.RawMessage(`{"version":4}`)})
	if ev := readEvent(t, conn); ev.Type != "order.updated" {
		t.Fatalf("second event: got %q, want order.updated", ev.Type)
	}
}

func TestServeWS_SnapshotErrorKeepsConnection(t *testing.T) {
	hub := startHub(t)
	venueID := uuid.New()
	snapshot := func(ctx context.Context, vid uuid.UUID) (Event, error) {
		return Event{}, errors.New("store unreachable")
	}
	srv := wsServer(t, hub, snapshot)

	token, _ := auth.GenerateToken(testSecret, auth.Principal{ID: uuid.New(), VenueID: venueID, Role: "KITCHEN"}, time.Hour)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, venueID, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hub.BroadcastToVenue(venueID, Event{Type: "order.updated", Payload: json.RawMessage(`{}`)})
	if ev := readEvent(t, conn); ev.Type != "order.updated" {
		t.Fatalf("got %q", ev.Type)
	}
}

func TestServeWS_Rejects(t *testing.T) {
	hub := startHub(t)
	srv := wsServer(t, hub, nil)
	venueID := uuid.New()
	other, _ := auth.GenerateToken(testSecret, auth.Principal{ID: uuid.New(), VenueID: uuid.New(), Role: "KITCHEN"}, time.Hour)
	forged, _ := auth.GenerateToken("other-secret", auth.Principal{ID: uuid.New(), VenueID: venueID, Role: "KITCHEN"}, time.Hour)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing token", wsURL(srv, venueID, ""), http.StatusUnauthorized},
		{"bad signature", wsURL(srv, venueID, forged), http.StatusUnauthorized},
		{"other venue", wsURL(srv, venueID, other), http.StatusForbidden},
		{"bad venue id", "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/venues/nope/orders?token=" + other, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if err == nil {
				t.Fatal("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("status: got %v, want %d", resp, tt.want)
			}
		})
	}
}
