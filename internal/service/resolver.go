package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/store"
)

// Outcome labels for kds_transitions_total.
const (
	outcomeApplied     = "applied"
	outcomeReapplied   = "reapplied"
	outcomeConflict    = "conflict"
	outcomeGone        = "gone"
	outcomeInvalid     = "invalid"
	outcomeUnreachable = "unreachable"
	outcomeNoop        = "noop"
)

// ApplyRequest is one optimistic status transition.
type ApplyRequest struct {
	OrderID uuid.UUID
	// VenueID scopes the write; uuid.Nil skips the check.
	VenueID         uuid.UUID
	ExpectedVersion int64
	// FromStatus is the caller's last known status. It is advisory; the
	// authoritative check runs against the stored status inside the write.
	FromStatus order.Status
	Target     order.Status
	Actor      order.Actor
}

// Resolver is the only path that mutates order status.
type Resolver struct {
	store   store.VersionStore
	reapply bool
	metrics *metrics.Registry
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithReapplyIfReachable retries a conflicted write once with the server's
// version when the target is still the server status's successor. Every
// reapply is logged at WARN.
func WithReapplyIfReachable() ResolverOption {
	return func(r *Resolver) { r.reapply = true }
}

func WithResolverMetrics(m *metrics.Registry) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver over st.
func NewResolver(st store.VersionStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply writes req.Target if the order is still at req.ExpectedVersion.
// It returns the updated order, or one of ErrInvalidTransition, ErrConflict
// (as *ConflictError), ErrGone or ErrUnreachable.
func (r *Resolver) Apply(ctx context.Context, req ApplyRequest) (order.Order, error) {
	if err := order.ValidateTransition(req.FromStatus, req.Target); err != nil {
		r.metrics.ObserveTransition(outcomeInvalid)
		return order.Order{}, err
	}

	updated, err := r.write(ctx, req)
	if err == nil {
		r.metrics.ObserveTransition(outcomeApplied)
		return updated, nil
	}

	var conflict *ConflictError
	if r.reapply && errors.As(err, &conflict) && order.CanTransition(conflict.Current.Status, req.Target) {
		r.logger.WarnContext(ctx, "reapplying transition over newer server version",
			"order_id", req.OrderID,
			"target", req.Target,
			"expected_version", req.ExpectedVersion,
			"server_version", conflict.Current.Version,
			"server_updated_by", conflict.Current.UpdatedByName,
		)
		retry := req
		retry.ExpectedVersion = conflict.Current.Version
		updated, err = r.write(ctx, retry)
		if err == nil {
			r.metrics.ObserveTransition(outcomeReapplied)
			return updated, nil
		}
	}

	r.metrics.ObserveTransition(outcomeFor(err))
	return order.Order{}, err
}

func (r *Resolver) write(ctx context.Context, req ApplyRequest) (order.Order, error) {
	res, err := r.store.Write(ctx, req.OrderID, req.ExpectedVersion, req.Actor, func(o *order.Order) error {
		if req.VenueID != uuid.Nil && o.VenueID != req.VenueID {
			return store.ErrNotFound
		}
		if err := order.ValidateTransition(o.Status, req.Target); err != nil {
			return err
		}
		o.Status = req.Target
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return order.Order{}, ErrGone
	case errors.Is(err, order.ErrInvalidTransition):
		return order.Order{}, err
	case err != nil:
		return order.Order{}, unreachable("write order", err)
	}

	if !res.Applied {
		if req.VenueID != uuid.Nil && res.Order.VenueID != req.VenueID {
			return order.Order{}, ErrGone
		}
		return order.Order{}, &ConflictError{Current: res.Order}
	}
	return res.Order, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return outcomeConflict
	case errors.Is(err, ErrGone):
		return outcomeGone
	case errors.Is(err, ErrInvalidTransition):
		return outcomeInvalid
	default:
		return outcomeUnreachable
	}
}
