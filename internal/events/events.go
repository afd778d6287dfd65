// Package events delivers order and rush changes to displays and the event
// bus once a write has committed.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/kiwari-pos/kds/internal/station"
)

// OrderChange describes one committed status transition.
type OrderChange struct {
	Order      order.Order  `json:"order"`
	From       order.Status `json:"from"`
	To         order.Status `json:"to"`
	Station    station.ID   `json:"station"`
	ActorID    string       `json:"actor_id"`
	ActorName  string       `json:"actor_name"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// NewOrderChange builds the change record for an applied transition.
func NewOrderChange(updated order.Order, from order.Status) OrderChange {
	return OrderChange{
		Order:      updated,
		From:       from,
		To:         updated.Status,
		Station:    station.Of(updated),
		ActorID:    updated.UpdatedBy,
		ActorName:  updated.UpdatedByName,
		OccurredAt: updated.UpdatedAt,
	}
}

// RushChange is the payload for rush.changed.
type RushChange struct {
	VenueID uuid.UUID `json:"venue_id"`
	rush.Window
}

// Publisher is a sink for committed changes.
type Publisher interface {
	PublishOrderChange(ctx context.Context, c OrderChange) error
	PublishRush(ctx context.Context, venueID uuid.UUID, w rush.Window) error
}

type sink struct {
	name string
	pub  Publisher
}

// Fanout publishes to every registered sink. A failing sink does not stop
// the others; failures are logged, counted and joined into the result.
type Fanout struct {
	sinks   []sink
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewFanout creates a Fanout with no sinks.
func NewFanout(reg *metrics.Registry, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{metrics: reg, logger: logger}
}

// Add registers a named sink and returns f for chaining.
func (f *Fanout) Add(name string, p Publisher) *Fanout {
	if p != nil {
		f.sinks = append(f.sinks, sink{name: name, pub: p})
	}
	return f
}

func (f *Fanout) PublishOrderChange(ctx context.Context, c OrderChange) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.pub.PublishOrderChange(ctx, c)
		f.metrics.ObservePublish(s.name, err)
		if err != nil {
			f.logger.ErrorContext(ctx, "publish order change failed",
				"sink", s.name, "order_id", c.Order.ID, "version", c.Order.Version, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) PublishRush(ctx context.Context, venueID uuid.UUID, w rush.Window) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.pub.PublishRush(ctx, venueID, w)
		f.metrics.ObservePublish(s.name, err)
		if err != nil {
			f.logger.ErrorContext(ctx, "publish rush change failed", "sink", s.name, "venue_id", venueID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
