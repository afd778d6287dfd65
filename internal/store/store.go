// Package store defines the versioned persistence contract the kitchen
// display engine is layered on. The version check and increment performed by
// Write is the one place true atomicity is required; everything above it is
// advisory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/order"
)

// ErrNotFound is returned when the order no longer exists (for example it
// was archived concurrently).
var ErrNotFound = errors.New("order not found")

// Mutation edits the authoritative current order inside the same critical
// section as the version check. Returning an error aborts the write.
type Mutation func(o *order.Order) error

// WriteResult is the outcome of a versioned write.
// When Applied is false the caller's expected version was stale and Order
// holds the current server copy.
type WriteResult struct {
	Applied bool
	Order   order.Order
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses     []order.Status
	CreatedSince time.Time
}

// Matches reports whether o passes the filter.
func (f Filter) Matches(o order.Order) bool {
	if !f.CreatedSince.IsZero() && o.CreatedAt.Before(f.CreatedSince) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// VersionStore reads and writes orders with optimistic concurrency.
// Satisfied by *memory.Store and *postgres.Store.
type VersionStore interface {
	Read(ctx context.Context, id uuid.UUID) (order.Order, error)
	List(ctx context.Context, venueID uuid.UUID, f Filter) ([]order.Order, error)
	Write(ctx context.Context, id uuid.UUID, expectedVersion int64, actor order.Actor, mutate Mutation) (WriteResult, error)
}
