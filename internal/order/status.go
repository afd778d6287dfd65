package order

import (
	"errors"
	"fmt"

	"github.com/kiwari-pos/kds/internal/enum"
)

// Status is the canonical string form of an order's kitchen status.
type Status string

const (
	StatusNew       Status = enum.OrderStatusNew
	StatusPreparing Status = enum.OrderStatusPreparing
	StatusReady     Status = enum.OrderStatusReady
	StatusServed    Status = enum.OrderStatusServed
	StatusClosed    Status = enum.OrderStatusClosed
)

// ErrInvalidTransition is returned when a target status is not the
// immediate successor of the current one.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownStatus is returned by ParseStatus for unrecognised values.
var ErrUnknownStatus = errors.New("unknown status")

// lifecycle is the only path an order may take. No skips, no cycles.
var lifecycle = []Status{StatusNew, StatusPreparing, StatusReady, StatusServed, StatusClosed}

// Statuses returns the lifecycle in order.
func Statuses() []Status {
	out := make([]Status, len(lifecycle))
	copy(out, lifecycle)
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.index() >= 0
}

func (s Status) index() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the status following s. It returns false at closed and for
// unknown statuses.
func Next(s Status) (Status, bool) {
	i := s.index()
	if i < 0 || i == len(lifecycle)-1 {
		return "", false
	}
	return lifecycle[i+1], true
}

// CanTransition reports whether to is the immediate successor of from.
func CanTransition(from, to Status) bool {
	next, ok := Next(from)
	return ok && next == to
}

// ValidateTransition returns ErrInvalidTransition wrapped with context when
// from -> to is not allowed.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ParseStatus converts a canonical status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}
