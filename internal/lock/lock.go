// Package lock provides short-lived per-order edit leases. A lease is a
// courtesy signal that reduces wasted work when several staff devices touch
// the same order; correctness still comes from version checks in the store.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL lets an abandoned lease (crashed tablet, closed tab) heal
	// without manual intervention.
	DefaultTTL = 3 * time.Minute

	// DefaultLinger is how long a lease survives a committed write, absorbing
	// duplicate taps reacting to the change.
	DefaultLinger = 3 * time.Second
)

// ErrTableFull is returned by a bounded lock table with no room left for
// another live lease.
var ErrTableFull = errors.New("lock table full")

// Holder identifies the staff session requesting a lease.
type Holder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lock is a lease on one order.
type Lock struct {
	OrderID    uuid.UUID `json:"order_id"`
	HolderID   string    `json:"holder_id"`
	HolderName string    `json:"holder_name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager is the only way to touch the lock table.
// Satisfied by *MemoryManager and *RedisManager.
type Manager interface {
	// Acquire succeeds when the order is unlocked, the lease expired, or the
	// caller already holds it (the lease is then refreshed). It returns false
	// when a different, live holder exists.
	Acquire(ctx context.Context, orderID uuid.UUID, h Holder, ttl time.Duration) (bool, error)
	// Release drops the lease if holderID owns it; otherwise it is a no-op.
	Release(ctx context.Context, orderID uuid.UUID, holderID string) error
	// ReleaseAfter shortens holderID's lease so it expires after d.
	ReleaseAfter(ctx context.Context, orderID uuid.UUID, holderID string, d time.Duration) error
	// IsLocked returns the live lease on the order, if any.
	IsLocked(ctx context.Context, orderID uuid.UUID) (Lock, bool, error)
}
