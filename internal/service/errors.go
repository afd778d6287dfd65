package service

import (
	"errors"
	"fmt"

	"github.com/kiwari-pos/kds/internal/lock"
	"github.com/kiwari-pos/kds/internal/order"
)

// Errors returned by the kitchen services.
var (
	ErrConflict          = errors.New("order changed by another session")
	ErrGone              = errors.New("order no longer exists")
	ErrLockDenied        = errors.New("order locked by another session")
	ErrInvalidTransition = order.ErrInvalidTransition
	ErrUnreachable       = errors.New("order backend unreachable")
	ErrLockingDisabled   = errors.New("order locking is not enabled")
)

// ConflictError carries the server's current order so the operator can see
// who changed it and decide whether to reapply.
type ConflictError struct {
	Current order.Order
}

func (e *ConflictError) Error() string {
	by := e.Current.UpdatedByName
	if by == "" {
		by = e.Current.UpdatedBy
	}
	if by == "" {
		by = "another session"
	}
	return fmt.Sprintf("order %s is now %s at version %d (changed by %s)", e.Current.ID, e.Current.Status, e.Current.Version, by)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// LockDeniedError reports who holds the lease.
type LockDeniedError struct {
	Lock lock.Lock
}

func (e *LockDeniedError) Error() string {
	name := e.Lock.HolderName
	if name == "" {
		name = e.Lock.HolderID
	}
	return fmt.Sprintf("order %s is being edited by %s", e.Lock.OrderID, name)
}

func (e *LockDeniedError) Unwrap() error { return ErrLockDenied }

func unreachable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
}
