package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/kiwari-pos/kds/internal/station"
	"github.com/kiwari-pos/kds/internal/store"
)

// BoardQuery filters the board. Zero values mean every active status and
// every station.
type BoardQuery struct {
	Statuses []order.Status
	Station  station.ID
}

// Card is an order as a display renders it.
type Card struct {
	order.Order
	Station station.ID `json:"station"`
	// Oldest marks the card that has waited longest in its status.
	Oldest bool `json:"oldest"`
}

// StationSummary is the per-station load of a venue.
type StationSummary struct {
	Counts       map[station.ID]int `json:"counts"`
	Busiest      station.ID         `json:"busiest"`
	BusiestCount int                `json:"busiest_count"`
	// Suggested is the station a display should auto-select; set only while
	// the venue is in rush mode and some station has work.
	Suggested station.ID `json:"suggested,omitempty"`
}

func activeStatuses() []order.Status {
	return []order.Status{order.StatusNew, order.StatusPreparing, order.StatusReady}
}

// Board lists a venue's cards, oldest first.
func (s *KitchenService) Board(ctx context.Context, venueID uuid.UUID, q BoardQuery) ([]Card, error) {
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = activeStatuses()
	}
	orders, err := s.store.List(ctx, venueID, store.Filter{Statuses: statuses})
	if err != nil {
		return nil, unreachable("list orders", err)
	}

	cards := make([]Card, 0, len(orders))
	for _, o := range orders {
		st := station.Of(o)
		if q.Station != "" && st != q.Station {
			continue
		}
		cards = append(cards, Card{Order: o, Station: st})
	}

	// FIFO highlight per status, among the cards actually shown.
	shown := make([]order.Order, len(cards))
	for i, c := range cards {
		shown[i] = c.Order
	}
	for _, st := range statuses {
		if oldest, ok := order.OldestIn(shown, st); ok {
			for i := range cards {
				if cards[i].ID == oldest.ID {
					cards[i].Oldest = true
				}
			}
		}
	}
	return cards, nil
}

// Stations summarizes active load per station.
func (s *KitchenService) Stations(ctx context.Context, venueID uuid.UUID) (StationSummary, error) {
	orders, err := s.store.List(ctx, venueID, store.Filter{Statuses: activeStatuses()})
	if err != nil {
		return StationSummary{}, unreachable("list orders", err)
	}
	busiest, n := station.Busiest(orders)
	sum := StationSummary{
		Counts:       station.Counts(orders),
		Busiest:      busiest,
		BusiestCount: n,
	}
	if n > 0 && s.Rush(venueID).IsActive {
		sum.Suggested = busiest
	}
	return sum, nil
}

// Rush returns the venue's rush window; zero when no detector is wired.
func (s *KitchenService) Rush(venueID uuid.UUID) rush.Window {
	if s.rush == nil {
		return rush.Window{}
	}
	return s.rush.Signal(venueID)
}
