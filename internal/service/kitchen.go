package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/events"
	"github.com/kiwari-pos/kds/internal/lock"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/kiwari-pos/kds/internal/store"
)

// Outcome of a transition request.
type Outcome string

const (
	OutcomeApplied Outcome = outcomeApplied
	OutcomeNoop    Outcome = outcomeNoop
)

// CardRef is what a display knows about an order when the operator acts on
// it: its identity and the status and version it was rendered at.
type CardRef struct {
	OrderID uuid.UUID
	VenueID uuid.UUID
	Status  order.Status
	Version int64
}

// Result of RequestAdvance or RequestDrop.
type Result struct {
	Outcome Outcome
	// Order is the committed order; zero for a no-op.
	Order order.Order
}

// RushSignaler serves the current rush window of a venue.
type RushSignaler interface {
	Signal(venueID uuid.UUID) rush.Window
}

// KitchenService turns display actions into resolver calls, with optional
// edit leases around each write and a broadcast after it.
type KitchenService struct {
	resolver  *Resolver
	store     store.VersionStore
	locks     lock.Manager
	lockTTL   time.Duration
	linger    time.Duration
	publisher events.Publisher
	rush      RushSignaler
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// KitchenOption configures a KitchenService.
type KitchenOption func(*KitchenService)

// WithLocking wraps every transition in an edit lease from m. Non-positive
// durations take lock.DefaultTTL and lock.DefaultLinger.
func WithLocking(m lock.Manager, ttl, linger time.Duration) KitchenOption {
	return func(s *KitchenService) {
		s.locks = m
		if ttl > 0 {
			s.lockTTL = ttl
		}
		if linger > 0 {
			s.linger = linger
		}
	}
}

func WithPublisher(p events.Publisher) KitchenOption {
	return func(s *KitchenService) { s.publisher = p }
}

func WithRushSignal(r RushSignaler) KitchenOption {
	return func(s *KitchenService) { s.rush = r }
}

func WithMetrics(m *metrics.Registry) KitchenOption {
	return func(s *KitchenService) { s.metrics = m }
}

func WithLogger(l *slog.Logger) KitchenOption {
	return func(s *KitchenService) { s.logger = l }
}

// NewKitchenService creates a KitchenService.
func NewKitchenService(resolver *Resolver, st store.VersionStore, opts ...KitchenOption) *KitchenService {
	s := &KitchenService{
		resolver: resolver,
		store:    st,
		lockTTL:  lock.DefaultTTL,
		linger:   lock.DefaultLinger,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LockingEnabled reports whether edit leases are configured.
func (s *KitchenService) LockingEnabled() bool {
	return s.locks != nil
}

// RequestAdvance is the button path: move the card to its next status.
func (s *KitchenService) RequestAdvance(ctx context.Context, p auth.Principal, card CardRef) (Result, error) {
	next, ok := order.Next(card.Status)
	if !ok {
		s.metrics.ObserveTransition(outcomeInvalid)
		return Result{}, order.ValidateTransition(card.Status, card.Status)
	}
	return s.transition(ctx, p, card, next)
}

// RequestDrop is the drag path: move the card to the lane it was dropped on.
// Dropping on the card's own lane is a no-op.
func (s *KitchenService) RequestDrop(ctx context.Context, p auth.Principal, card CardRef, target order.Status) (Result, error) {
	if target == card.Status {
		s.metrics.ObserveTransition(outcomeNoop)
		return Result{Outcome: OutcomeNoop}, nil
	}
	return s.transition(ctx, p, card, target)
}

func (s *KitchenService) transition(ctx context.Context, p auth.Principal, card CardRef, target order.Status) (Result, error) {
	if err := order.ValidateTransition(card.Status, target); err != nil {
		s.metrics.ObserveTransition(outcomeInvalid)
		return Result{}, err
	}

	holder := holderOf(p)
	locked, held := false, false
	if s.locks != nil {
		// A foreign order must not be leased or reveal its holder.
		if _, err := s.Get(ctx, card.VenueID, card.OrderID); err != nil {
			s.metrics.ObserveTransition(outcomeFor(err))
			return Result{}, err
		}
		var err error
		if held, err = s.heldBy(ctx, card.OrderID, holder.ID); err != nil {
			return Result{}, err
		}
		if err := s.acquire(ctx, card.OrderID, holder); err != nil {
			return Result{}, err
		}
		locked = true
	}

	// Once sent, a status change completes even if the caller goes away.
	applyCtx := context.WithoutCancel(ctx)
	updated, err := s.resolver.Apply(applyCtx, ApplyRequest{
		OrderID:         card.OrderID,
		VenueID:         card.VenueID,
		ExpectedVersion: card.Version,
		FromStatus:      card.Status,
		Target:          target,
		Actor:           order.Actor{ID: holder.ID, Name: holder.Name},
	})
	if err != nil {
		// A lease taken through Lock stays with its detail view.
		if locked && !held {
			if rerr := s.locks.Release(applyCtx, card.OrderID, holder.ID); rerr != nil {
				s.logger.WarnContext(ctx, "release lock after failed transition", "order_id", card.OrderID, "error", rerr)
			}
		}
		return Result{}, err
	}

	if locked && !held {
		if lerr := s.locks.ReleaseAfter(applyCtx, card.OrderID, holder.ID, s.linger); lerr != nil {
			s.logger.WarnContext(ctx, "linger lock after transition", "order_id", card.OrderID, "error", lerr)
		}
	}

	s.logger.InfoContext(ctx, "order status changed",
		"order_id", updated.ID,
		"venue_id", updated.VenueID,
		"from", card.Status,
		"to", updated.Status,
		"version", updated.Version,
		"actor", holder.Name,
	)

	if s.publisher != nil {
		// The write has committed; a publish failure never undoes it.
		if perr := s.publisher.PublishOrderChange(applyCtx, events.NewOrderChange(updated, card.Status)); perr != nil {
			s.logger.WarnContext(ctx, "broadcast order change", "order_id", updated.ID, "error", perr)
		}
	}
	return Result{Outcome: OutcomeApplied, Order: updated}, nil
}

func (s *KitchenService) acquire(ctx context.Context, orderID uuid.UUID, h lock.Holder) error {
	ok, err := s.locks.Acquire(ctx, orderID, h, s.lockTTL)
	if err != nil {
		s.metrics.ObserveLock("error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return unreachable("acquire lock", err)
	}
	if ok {
		s.metrics.ObserveLock("acquired")
		return nil
	}
	s.metrics.ObserveLock("denied")
	current, held, err := s.locks.IsLocked(ctx, orderID)
	if err != nil {
		return unreachable("read lock", err)
	}
	if !held {
		// The other lease expired between the two calls; one more try.
		if ok, err = s.locks.Acquire(ctx, orderID, h, s.lockTTL); err == nil && ok {
			s.metrics.ObserveLock("acquired")
			return nil
		}
		current = lock.Lock{OrderID: orderID}
	}
	return &LockDeniedError{Lock: current}
}

// heldBy reports whether holderID already owns the live lease on an order.
func (s *KitchenService) heldBy(ctx context.Context, orderID uuid.UUID, holderID string) (bool, error) {
	l, held, err := s.locks.IsLocked(ctx, orderID)
	if err != nil {
		s.metrics.ObserveLock("error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, unreachable("read lock", err)
	}
	return held && l.HolderID == holderID, nil
}

// Lock takes the edit lease on an order for p, for displays that lock a card
// while its detail view is open.
func (s *KitchenService) Lock(ctx context.Context, p auth.Principal, venueID, orderID uuid.UUID) (lock.Lock, error) {
	if s.locks == nil {
		return lock.Lock{}, ErrLockingDisabled
	}
	if _, err := s.Get(ctx, venueID, orderID); err != nil {
		return lock.Lock{}, err
	}
	if err := s.acquire(ctx, orderID, holderOf(p)); err != nil {
		return lock.Lock{}, err
	}
	l, _, err := s.locks.IsLocked(ctx, orderID)
	if err != nil {
		return lock.Lock{}, unreachable("read lock", err)
	}
	return l, nil
}

// Unlock releases p's lease on an order. Releasing a lease p does not hold
// is a no-op.
func (s *KitchenService) Unlock(ctx context.Context, p auth.Principal, orderID uuid.UUID) error {
	if s.locks == nil {
		return ErrLockingDisabled
	}
	if err := s.locks.Release(ctx, orderID, p.ID.String()); err != nil {
		return unreachable("release lock", err)
	}
	return nil
}

// LockStatus reports the live lease on an order of venueID, if any.
func (s *KitchenService) LockStatus(ctx context.Context, venueID, orderID uuid.UUID) (lock.Lock, bool, error) {
	if s.locks == nil {
		return lock.Lock{}, false, ErrLockingDisabled
	}
	if _, err := s.Get(ctx, venueID, orderID); err != nil {
		return lock.Lock{}, false, err
	}
	l, held, err := s.locks.IsLocked(ctx, orderID)
	if err != nil {
		return lock.Lock{}, false, unreachable("read lock", err)
	}
	return l, held, nil
}

// Get reads one order of a venue.
func (s *KitchenService) Get(ctx context.Context, venueID, orderID uuid.UUID) (order.Order, error) {
	o, err := s.store.Read(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return order.Order{}, ErrGone
	}
	if err != nil {
		return order.Order{}, unreachable("read order", err)
	}
	if o.VenueID != venueID {
		return order.Order{}, ErrGone
	}
	return o, nil
}

func holderOf(p auth.Principal) lock.Holder {
	return lock.Holder{ID: p.ID.String(), Name: p.DisplayName}
}
