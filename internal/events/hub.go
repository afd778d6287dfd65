package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/kiwari-pos/kds/internal/ws"
)

// broadcaster is the part of ws.Hub the display sink uses.
type broadcaster interface {
	BroadcastToVenue(venueID uuid.UUID, event ws.Event)
}

// HubPublisher pushes changes to connected displays.
type HubPublisher struct {
	hub broadcaster
}

func NewHubPublisher(hub broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) PublishOrderChange(_ context.Context, c OrderChange) error {
	ev, err := ws.NewEvent(enum.EventOrderUpdated, c)
	if err != nil {
		return err
	}
	p.hub.BroadcastToVenue(c.Order.VenueID, ev)
	return nil
}

func (p *HubPublisher) PublishRush(_ context.Context, venueID uuid.UUID, w rush.Window) error {
	ev, err := ws.NewEvent(enum.EventRushChanged, RushChange{VenueID: venueID, Window: w})
	if err != nil {
		return err
	}
	p.hub.BroadcastToVenue(venueID, ev)
	return nil
}
