package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/store"
)

// Store is an in-process VersionStore. A single mutex serializes writes, so
// the version check and increment are atomic with respect to each other.
type Store struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]order.Order
	clock  clock.Clock
}

// New creates an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		orders: make(map[uuid.UUID]order.Order),
		clock:  clk,
	}
}

// Create inserts a new order in status new at version 0.
func (s *Store) Create(ctx context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if _, exists := s.orders[o.ID]; exists {
		return order.Order{}, fmt.Errorf("order %s already exists", o.ID)
	}
	now := s.clock.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	o.Status = order.StatusNew
	o.Version = 0
	o.Items = cloneItems(o.Items)
	s.orders[o.ID] = o
	return o, nil
}

// Delete removes an order, emulating an external archive.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	delete(s.orders, id)
	s.mu.Unlock()
}

func (s *Store) Read(ctx context.Context, id uuid.UUID) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, store.ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *Store) List(ctx context.Context, venueID uuid.UUID, f store.Filter) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Order, 0)
	for _, o := range s.orders {
		if o.VenueID != venueID || !f.Matches(o) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Write(ctx context.Context, id uuid.UUID, expectedVersion int64, actor order.Actor, mutate store.Mutation) (store.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[id]
	if !ok {
		return store.WriteResult{}, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.WriteResult{Applied: false, Order: copyOrder(current)}, nil
	}

	next := copyOrder(current)
	if err := mutate(&next); err != nil {
		return store.WriteResult{}, err
	}
	// Identity and history are not the mutation's to change.
	next.ID = current.ID
	next.VenueID = current.VenueID
	next.TableNumber = current.TableNumber
	next.Items = cloneItems(current.Items)
	next.CreatedAt = current.CreatedAt

	next.Version = current.Version + 1
	next.UpdatedAt = s.clock.Now()
	next.UpdatedBy = actor.ID
	next.UpdatedByName = actor.Name
	s.orders[id] = next
	return store.WriteResult{Applied: true, Order: copyOrder(next)}, nil
}

func copyOrder(o order.Order) order.Order {
	o.Items = cloneItems(o.Items)
	return o
}

func cloneItems(items []order.Item) []order.Item {
	if items == nil {
		return nil
	}
	out := make([]order.Item, len(items))
	copy(out, items)
	return out
}
