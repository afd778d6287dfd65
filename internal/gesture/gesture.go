// Package gesture turns taps and drags on a kitchen display into exactly
// one status transition per completed gesture. While a drag is in flight it
// only produces view coordinates; order state is touched once, on release.
package gesture

import (
	"context"
	"errors"
	"sync"

	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/service"
)

// ErrSessionClosed is returned when a released or cancelled drag is
// released again.
var ErrSessionClosed = errors.New("gesture session closed")

// Point is a position in display coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Rect is an axis-aligned zone; the right and bottom edges are exclusive.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether p lies inside r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Lane is a drop zone for one status.
type Lane struct {
	Status order.Status `json:"status"`
	Rect   Rect         `json:"rect"`
}

// Layout is the set of lanes on screen. Earlier lanes win where they overlap.
type Layout struct {
	Lanes []Lane `json:"lanes"`
}

// Hit returns the status of the lane under p.
func (l Layout) Hit(p Point) (order.Status, bool) {
	for _, lane := range l.Lanes {
		if lane.Rect.Contains(p) {
			return lane.Status, true
		}
	}
	return "", false
}

// Advancer commits transitions. Satisfied by *service.KitchenService.
type Advancer interface {
	RequestAdvance(ctx context.Context, p auth.Principal, card service.CardRef) (service.Result, error)
	RequestDrop(ctx context.Context, p auth.Principal, card service.CardRef, target order.Status) (service.Result, error)
}

// Adapter is the single entry point for both tap and drag gestures.
type Adapter struct {
	advancer Advancer
}

func NewAdapter(a Advancer) *Adapter {
	return &Adapter{advancer: a}
}

// Tap is the button path: advance the card to its next status.
func (a *Adapter) Tap(ctx context.Context, p auth.Principal, card service.CardRef) (service.Result, error) {
	return a.advancer.RequestAdvance(ctx, p, card)
}

// DropOn commits a drop whose target lane is already known. A drop on the
// card's own lane never reaches the advancer.
func (a *Adapter) DropOn(ctx context.Context, p auth.Principal, card service.CardRef, target order.Status) (service.Result, error) {
	if target == card.Status {
		return service.Result{Outcome: service.OutcomeNoop}, nil
	}
	return a.advancer.RequestDrop(ctx, p, card, target)
}

// Begin starts a drag of card from origin over layout.
func (a *Adapter) Begin(p auth.Principal, card service.CardRef, layout Layout, origin Point) *Session {
	return &Session{
		adapter:   a,
		principal: p,
		card:      card,
		layout:    layout,
		origin:    origin,
	}
}

// Frame is transient visual feedback for an in-flight drag.
type Frame struct {
	// Offset is the card's displacement from where the drag began.
	Offset Point `json:"offset"`
	// Hover is the lane under the pointer, empty when over no lane.
	Hover order.Status `json:"hover,omitempty"`
	// Restore asks the view to put the card back at its origin.
	Restore bool `json:"restore,omitempty"`
}

// Drop is the terminal result of a drag.
type Drop struct {
	Frame  Frame          `json:"frame"`
	Target order.Status   `json:"target,omitempty"`
	Result service.Result `json:"-"`
}

// Session is one drag. Move may be called any number of times; Release or
// Cancel ends it.
type Session struct {
	adapter   *Adapter
	principal auth.Principal
	card      service.CardRef
	layout    Layout
	origin    Point

	mu     sync.Mutex
	closed bool
	last   Frame
}

// Move reports the frame for the pointer at p. It never reads or writes
// order state.
func (s *Session) Move(p Point) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return restoreFrame()
	}
	f := Frame{Offset: p.sub(s.origin)}
	if st, ok := s.layout.Hit(p); ok {
		f.Hover = st
	}
	s.last = f
	return f
}

// Last returns the most recent frame.
func (s *Session) Last() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Release ends the drag at p. Only the lane under p counts: lanes hovered
// earlier are ignored. Outside every lane the card is restored without a
// call; on its own lane it is a no-op.
func (s *Session) Release(ctx context.Context, p Point) (Drop, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Drop{}, ErrSessionClosed
	}
	s.closed = true
	s.last = restoreFrame()
	s.mu.Unlock()

	target, ok := s.layout.Hit(p)
	if !ok {
		return Drop{Frame: restoreFrame(), Result: service.Result{Outcome: service.OutcomeNoop}}, nil
	}

	res, err := s.adapter.DropOn(ctx, s.principal, s.card, target)
	if err != nil {
		// The view snaps back; the error tells the operator why.
		return Drop{Frame: restoreFrame(), Target: target}, err
	}
	drop := Drop{Frame: Frame{}, Target: target, Result: res}
	if res.Outcome == service.OutcomeNoop {
		drop.Frame = restoreFrame()
	}
	return drop, nil
}

// Cancel abandons the drag and restores the card.
func (s *Session) Cancel() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.last = restoreFrame()
	return s.last
}

func restoreFrame() Frame {
	return Frame{Restore: true}
}

// Replay runs a recorded pointer path as one drag: it begins at the first
// point, moves through the rest and releases at the last. It returns the
// frames emitted along the way with the drop.
func (a *Adapter) Replay(ctx context.Context, p auth.Principal, card service.CardRef, layout Layout, path []Point) ([]Frame, Drop, error) {
	if len(path) == 0 {
		return nil, Drop{Frame: restoreFrame(), Result: service.Result{Outcome: service.OutcomeNoop}}, nil
	}
	s := a.Begin(p, card, layout, path[0])
	frames := make([]Frame, 0, len(path))
	for _, pt := range path[1:] {
		frames = append(frames, s.Move(pt))
	}
	drop, err := s.Release(ctx, path[len(path)-1])
	return frames, drop, err
}
