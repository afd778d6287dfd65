package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/gesture"
	"github.com/kiwari-pos/kds/internal/lock"
	"github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/kiwari-pos/kds/internal/service"
	"github.com/kiwari-pos/kds/internal/station"
	"github.com/kiwari-pos/kds/internal/ws"
)

// KitchenServicer defines the service methods needed by kitchen handlers.
// Satisfied by *service.KitchenService; narrow interface for testability.
type KitchenServicer interface {
	gesture.Advancer
	Board(ctx context.Context, venueID uuid.UUID, q service.BoardQuery) ([]service.Card, error)
	Get(ctx context.Context, venueID, orderID uuid.UUID) (order.Order, error)
	Lock(ctx context.Context, p auth.Principal, venueID, orderID uuid.UUID) (lock.Lock, error)
	Unlock(ctx context.Context, p auth.Principal, orderID uuid.UUID) error
	LockStatus(ctx context.Context, venueID, orderID uuid.UUID) (lock.Lock, bool, error)
	Stations(ctx context.Context, venueID uuid.UUID) (service.StationSummary, error)
	Rush(venueID uuid.UUID) rush.Window
}

// KitchenHandler handles kitchen display endpoints.
type KitchenHandler struct {
	svc     KitchenServicer
	gesture *gesture.Adapter
}

// NewKitchenHandler creates a new KitchenHandler. Taps and drags both go
// through one gesture adapter over svc.
func NewKitchenHandler(svc KitchenServicer) *KitchenHandler {
	return &KitchenHandler{svc: svc, gesture: gesture.NewAdapter(svc)}
}

// RegisterRoutes registers read endpoints on a venue-scoped subrouter:
// /venues/{vid}
func (h *KitchenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Get)
	r.Get("/orders/{id}/lock", h.LockStatus)
	r.Get("/rush", h.Rush)
	r.Get("/stations", h.Stations)
}

// RegisterActionRoutes registers endpoints that change order or lock state.
func (h *KitchenHandler) RegisterActionRoutes(r chi.Router) {
	r.Post("/orders/{id}/advance", h.Advance)
	r.Post("/orders/{id}/drop", h.Drop)
	r.Post("/orders/{id}/gesture", h.Gesture)
	r.Put("/orders/{id}/lock", h.Lock)
	r.Delete("/orders/{id}/lock", h.Unlock)
}

// --- Request / Response types ---

type transitionRequest struct {
	Status  wireStatus `json:"status"`
	Version *int64     `json:"version"`
	Target  wireStatus `json:"target"`
}

type gestureRequest struct {
	Status  wireStatus      `json:"status"`
	Version *int64          `json:"version"`
	Layout  gesture.Layout  `json:"layout"`
	Path    []gesture.Point `json:"path"`
}

type transitionResponse struct {
	Outcome service.Outcome `json:"outcome"`
	Order   *service.Card   `json:"order,omitempty"`
}

type gestureResponse struct {
	Outcome service.Outcome `json:"outcome"`
	Target  order.Status    `json:"target,omitempty"`
	Frames  []gesture.Frame `json:"frames"`
	Final   gesture.Frame   `json:"final"`
	Order   *service.Card   `json:"order,omitempty"`
}

type lockResponse struct {
	Locked bool       `json:"locked"`
	Lock   *lock.Lock `json:"lock,omitempty"`
}

type rushResponse struct {
	VenueID uuid.UUID `json:"venue_id"`
	rush.Window
}

type snapshotPayload struct {
	Orders []service.Card `json:"orders"`
	Rush   rush.Window    `json:"rush"`
}

// --- Handlers ---

// List handles GET /venues/{vid}/orders?status=new,preparing&station=grill
func (h *KitchenHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := venueParam(w, r)
	if !ok {
		return
	}

	statuses, err := parseStatusList(r.URL.Query().Get("status"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	q := service.BoardQuery{Statuses: statuses}
	if s := r.URL.Query().Get("station"); s != "" {
		st, ok := station.Parse(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown station"})
			return
		}
		q.Station = st
	}

	cards, err := h.svc.Board(r.Context(), venueID, q)
	if err != nil {
		writeServiceError(w, r, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// Get handles GET /venues/{vid}/orders/{id}
func (h *KitchenHandler) Get(w http.ResponseWriter, r *http.Request) {
	venueID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	o, err := h.svc.Get(r.Context(), venueID, orderID)
	if err != nil {
		writeServiceError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toCard(o))
}

// Advance handles POST /venues/{vid}/orders/{id}/advance
func (h *KitchenHandler) Advance(w http.ResponseWriter, r *http.Request) {
	p, card, _, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	res, err := h.gesture.Tap(r.Context(), p, card)
	if err != nil {
		writeServiceError(w, r, "advance order", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

// Drop handles POST /venues/{vid}/orders/{id}/drop
func (h *KitchenHandler) Drop(w http.ResponseWriter, r *http.Request) {
	p, card, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	if req.Target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target is required"})
		return
	}
	res, err := h.gesture.DropOn(r.Context(), p, card, order.Status(req.Target))
	if err != nil {
		writeServiceError(w, r, "drop order", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

// Gesture handles POST /venues/{vid}/orders/{id}/gesture: a recorded drag
// path replayed as one gesture against the display's lane layout.
func (h *KitchenHandler) Gesture(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	venueID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}

	var req gestureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" || req.Version == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status and version are required"})
		return
	}
	if len(req.Path) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}
	for _, lane := range req.Layout.Lanes {
		if !lane.Status.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown lane status"})
			return
		}
	}

	card := service.CardRef{OrderID: orderID, VenueID: venueID, Status: order.Status(req.Status), Version: *req.Version}
	frames, drop, err := h.gesture.Replay(r.Context(), p, card, req.Layout, req.Path)
	if err != nil {
		writeServiceError(w, r, "gesture drop", err)
		return
	}

	resp := gestureResponse{
		Outcome: drop.Result.Outcome,
		Target:  drop.Target,
		Frames:  frames,
		Final:   drop.Frame,
	}
	if drop.Result.Outcome == service.OutcomeApplied {
		c := toCard(drop.Result.Order)
		resp.Order = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

// Lock handles PUT /venues/{vid}/orders/{id}/lock
func (h *KitchenHandler) Lock(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	venueID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	l, err := h.svc.Lock(r.Context(), p, venueID, orderID)
	if err != nil {
		writeServiceError(w, r, "lock order", err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Locked: true, Lock: &l})
}

// Unlock handles DELETE /venues/{vid}/orders/{id}/lock
func (h *KitchenHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	_, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unlock(r.Context(), p, orderID); err != nil {
		writeServiceError(w, r, "unlock order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LockStatus handles GET /venues/{vid}/orders/{id}/lock
func (h *KitchenHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	venueID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	l, held, err := h.svc.LockStatus(r.Context(), venueID, orderID)
	if err != nil {
		writeServiceError(w, r, "lock status", err)
		return
	}
	resp := lockResponse{Locked: held}
	if held {
		resp.Lock = &l
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rush handles GET /venues/{vid}/rush
func (h *KitchenHandler) Rush(w http.ResponseWriter, r *http.Request) {
	venueID, ok := venueParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rushResponse{VenueID: venueID, Window: h.svc.Rush(venueID)})
}

// Stations handles GET /venues/{vid}/stations
func (h *KitchenHandler) Stations(w http.ResponseWriter, r *http.Request) {
	venueID, ok := venueParam(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.Stations(r.Context(), venueID)
	if err != nil {
		writeServiceError(w, r, "station summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Snapshot builds the orders.snapshot event a display receives when its
// websocket connects.
func (h *KitchenHandler) Snapshot(ctx context.Context, venueID uuid.UUID) (ws.Event, error) {
	cards, err := h.svc.Board(ctx, venueID, service.BoardQuery{})
	if err != nil {
		return ws.Event{}, err
	}
	return ws.NewEvent(enum.EventOrdersSnapshot, snapshotPayload{Orders: cards, Rush: h.svc.Rush(venueID)})
}

// --- Helpers ---

func (h *KitchenHandler) decodeTransition(w http.ResponseWriter, r *http.Request) (auth.Principal, service.CardRef, transitionRequest, bool) {
	var req transitionRequest
	p, ok := middleware.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return p, service.CardRef{}, req, false
	}
	venueID, orderID, ok := orderParams(w, r)
	if !ok {
		return p, service.CardRef{}, req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "invalid request body"
		if errors.Is(err, order.ErrUnknownStatus) {
			msg = err.Error()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return p, service.CardRef{}, req, false
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return p, service.CardRef{}, req, false
	}
	if req.Version == nil || *req.Version < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "version is required"})
		return p, service.CardRef{}, req, false
	}

	card := service.CardRef{
		OrderID: orderID,
		VenueID: venueID,
		Status:  order.Status(req.Status),
		Version: *req.Version,
	}
	return p, card, req, true
}

func venueParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	venueID, err := uuid.Parse(chi.URLParam(r, "vid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid venue ID"})
		return uuid.Nil, false
	}
	return venueID, true
}

func orderParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	venueID, ok := venueParam(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return venueID, orderID, true
}

func toCard(o order.Order) service.Card {
	return service.Card{Order: o, Station: station.Of(o)}
}

func toTransitionResponse(res service.Result) transitionResponse {
	resp := transitionResponse{Outcome: res.Outcome}
	if res.Outcome == service.OutcomeApplied {
		c := toCard(res.Order)
		resp.Order = &c
	}
	return resp
}
