package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/store"
	"github.com/kiwari-pos/kds/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- Mock implementations ---

// mockVersionStore implements store.VersionStore with configurable behavior.
type mockVersionStore struct {
	readFn  func(ctx context.Context, id uuid.UUID) (order.Order, error)
	listFn  func(ctx context.Context, venueID uuid.UUID, f store.Filter) ([]order.Order, error)
	writeFn func(ctx context.Context, id uuid.UUID, expectedVersion int64, actor order.Actor, mutate store.Mutation) (store.WriteResult, error)
}

func (m *mockVersionStore) Read(ctx context.Context, id uuid.UUID) (order.Order, error) {
	return m.readFn(ctx, id)
}
func (m *mockVersionStore) List(ctx context.Context, venueID uuid.UUID, f store.Filter) ([]order.Order, error) {
	return m.listFn(ctx, venueID, f)
}
func (m *mockVersionStore) Write(ctx context.Context, id uuid.UUID, expectedVersion int64, actor order.Actor, mutate store.Mutation) (store.WriteResult, error) {
	return m.writeFn(ctx, id, expectedVersion, actor, mutate)
}

var testNow = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

// seedOrder creates an order and walks it to status at version by direct
// store writes.
func seedOrder(t *testing.T, s *memory.Store, venueID uuid.UUID, status order.Status, version int64, items ...string) order.Order {
	t.Helper()
	ctx := context.Background()
	its := make([]order.Item, len(items))
	for i, name := range items {
		its[i] = order.Item{Name: name, Quantity: 1}
	}
	o, err := s.Create(ctx, order.Order{VenueID: venueID, TableNumber: "7", Items: its})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seed := order.Actor{ID: "seed", Name: "Seeder"}
	for o.Version < version {
		res, err := s.Write(ctx, o.ID, o.Version, seed, func(cur *order.Order) error {
			cur.Status = status
			return nil
		})
		if err != nil || !res.Applied {
			t.Fatalf("seed write: %v %+v", err, res)
		}
		o = res.Order
	}
	if o.Status != status {
		t.Fatalf("seed: version %d too low to reach %s", version, status)
	}
	return o
}

func TestApply_StaleVersionScenario(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	r := NewResolver(s)
	o := seedOrder(t, s, uuid.New(), order.StatusPreparing, 3)

	a := order.Actor{ID: "a", Name: "Ayu"}
	updated, err := r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusPreparing, Target: order.StatusReady, Actor: a,
	})
	if err != nil {
		t.Fatalf("A: %v", err)
	}
	if updated.Version != 4 || updated.Status != order.StatusReady {
		t.Fatalf("A: got %s/v%d, want ready/v4", updated.Status, updated.Version)
	}

	b := order.Actor{ID: "b", Name: "Bayu"}
	_, err = r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusPreparing, Target: order.StatusReady, Actor: b,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("B: expected ErrConflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("B: expected *ConflictError, got %T", err)
	}
	if conflict.Current.Status != order.StatusReady || conflict.Current.Version != 4 {
		t.Errorf("B: current got %s/v%d, want ready/v4", conflict.Current.Status, conflict.Current.Version)
	}
	if conflict.Current.UpdatedByName != "Ayu" {
		t.Errorf("B: conflict should name who changed the order, got %q", conflict.Current.UpdatedByName)
	}
	if !strings.Contains(err.Error(), "Ayu") {
		t.Errorf("error message should name the staff member: %v", err)
	}
}

func TestApply_AdvisoryCheckRejectsBeforeWrite(t *testing.T) {
	called := false
	st := &mockVersionStore{
		writeFn: func(ctx context.Context, id uuid.UUID, v int64, a order.Actor, m store.Mutation) (store.WriteResult, error) {
			called = true
			return store.WriteResult{}, nil
		},
	}
	r := NewResolver(st)

	tests := []struct {
		name     string
		from, to order.Status
	}{
		{"skip", order.StatusNew, order.StatusReady},
		{"regress", order.StatusReady, order.StatusPreparing},
		{"same", order.StatusReady, order.StatusReady},
		{"past closed", order.StatusClosed, order.StatusNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Apply(context.Background(), ApplyRequest{OrderID: uuid.New(), FromStatus: tt.from, Target: tt.to})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
	if called {
		t.Fatal("store must not be called for an invalid transition")
	}
}

func TestApply_AuthoritativeCheckInsideWrite(t *testing.T) {
	// The client claims preparing, the server row is already served at the
	// same version (a lying or buggy client). The mutation must refuse.
	st := &mockVersionStore{
		writeFn: func(ctx context.Context, id uuid.UUID, v int64, a order.Actor, mutate store.Mutation) (store.WriteResult, error) {
			cur := order.Order{ID: id, Status: order.StatusServed, Version: v}
			if err := mutate(&cur); err != nil {
				return store.WriteResult{}, err
			}
			return store.WriteResult{Applied: true, Order: cur}, nil
		},
	}
	_, err := NewResolver(st).Apply(context.Background(), ApplyRequest{
		OrderID: uuid.New(), ExpectedVersion: 2, FromStatus: order.StatusPreparing, Target: order.StatusReady,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApply_Gone(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	_, err := NewResolver(s).Apply(context.Background(), ApplyRequest{
		OrderID: uuid.New(), FromStatus: order.StatusNew, Target: order.StatusPreparing,
	})
	if !errors.Is(err, ErrGone) {
		t.Fatalf("expected ErrGone, got %v", err)
	}
}

func TestApply_ArchivedConcurrently(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	o := seedOrder(t, s, uuid.New(), order.StatusServed, 3)
	s.Delete(o.ID)

	_, err := NewResolver(s).Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusServed, Target: order.StatusClosed,
	})
	if !errors.Is(err, ErrGone) {
		t.Fatalf("expected ErrGone, got %v", err)
	}
}

func TestApply_OtherVenueIsGone(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	o := seedOrder(t, s, uuid.New(), order.StatusNew, 0)
	r := NewResolver(s)

	_, err := r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, VenueID: uuid.New(), ExpectedVersion: 0, FromStatus: order.StatusNew, Target: order.StatusPreparing,
	})
	if !errors.Is(err, ErrGone) {
		t.Fatalf("matching version: expected ErrGone, got %v", err)
	}

	_, err = r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, VenueID: uuid.New(), ExpectedVersion: 9, FromStatus: order.StatusNew, Target: order.StatusPreparing,
	})
	if !errors.Is(err, ErrGone) {
		t.Fatalf("stale version: expected ErrGone, got %v", err)
	}

	cur, _ := s.Read(context.Background(), o.ID)
	if cur.Version != 0 {
		t.Fatalf("order of another venue was written: v%d", cur.Version)
	}
}

func TestApply_Unreachable(t *testing.T) {
	backendErr := errors.New("connection refused")
	st := &mockVersionStore{
		writeFn: func(ctx context.Context, id uuid.UUID, v int64, a order.Actor, m store.Mutation) (store.WriteResult, error) {
			return store.WriteResult{}, backendErr
		},
	}
	_, err := NewResolver(st).Apply(context.Background(), ApplyRequest{
		OrderID: uuid.New(), FromStatus: order.StatusNew, Target: order.StatusPreparing,
	})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if !errors.Is(err, backendErr) {
		t.Fatalf("cause must be preserved, got %v", err)
	}
}

func TestApply_NeverRetriesByDefault(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	o := seedOrder(t, s, uuid.New(), order.StatusPreparing, 3)
	// Someone touched the order without changing its status.
	if _, err := s.Write(context.Background(), o.ID, 3, order.Actor{Name: "Other"}, func(*order.Order) error { return nil }); err != nil {
		t.Fatal(err)
	}

	_, err := NewResolver(s).Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusPreparing, Target: order.StatusReady,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	cur, _ := s.Read(context.Background(), o.ID)
	if cur.Status != order.StatusPreparing || cur.Version != 4 {
		t.Fatalf("order must be untouched, got %s/v%d", cur.Status, cur.Version)
	}
}

func TestApply_ReapplyIfReachable(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	o := seedOrder(t, s, uuid.New(), order.StatusPreparing, 3)
	if _, err := s.Write(context.Background(), o.ID, 3, order.Actor{Name: "Other"}, func(*order.Order) error { return nil }); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	reg := metrics.NewRegistry()
	r := NewResolver(s,
		WithReapplyIfReachable(),
		WithResolverMetrics(reg),
		WithResolverLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
	)

	updated, err := r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusPreparing, Target: order.StatusReady,
	})
	if err != nil {
		t.Fatalf("expected reapply to succeed, got %v", err)
	}
	if updated.Status != order.StatusReady || updated.Version != 5 {
		t.Fatalf("got %s/v%d, want ready/v5", updated.Status, updated.Version)
	}
	if !strings.Contains(logs.String(), `"level":"WARN"`) || !strings.Contains(logs.String(), "reapplying") {
		t.Errorf("reapply must be logged at WARN, got %s", logs.String())
	}
	if got := testutil.ToFloat64(reg.Transitions.WithLabelValues("reapplied")); got != 1 {
		t.Errorf("reapplied count: got %v", got)
	}
}

func TestApply_ReapplyNeverSkipsAhead(t *testing.T) {
	s := memory.New(clock.NewManual(testNow))
	o := seedOrder(t, s, uuid.New(), order.StatusPreparing, 3)
	r := NewResolver(s, WithReapplyIfReachable())

	if _, err := r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusPreparing, Target: order.StatusReady,
	}); err != nil {
		t.Fatal(err)
	}
	// Stale "mark ready" from another display: the target is no longer the
	// successor of ready, so it must surface as a conflict.
	_, err := r.Apply(context.Background(), ApplyRequest{
		OrderID: o.ID, ExpectedVersion: 3, FromStatus: order.StatusPreparing, Target: order.StatusReady,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestApply_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	s := memory.New(clock.NewManual(testNow))
	r := NewResolver(s, WithResolverMetrics(reg))
	o := seedOrder(t, s, uuid.New(), order.StatusNew, 0)
	ctx := context.Background()

	r.Apply(ctx, ApplyRequest{OrderID: o.ID, ExpectedVersion: 0, FromStatus: order.StatusNew, Target: order.StatusPreparing})
	r.Apply(ctx, ApplyRequest{OrderID: o.ID, ExpectedVersion: 0, FromStatus: order.StatusNew, Target: order.StatusPreparing})
	r.Apply(ctx, ApplyRequest{OrderID: uuid.New(), FromStatus: order.StatusNew, Target: order.StatusPreparing})
	r.Apply(ctx, ApplyRequest{OrderID: o.ID, FromStatus: order.StatusNew, Target: order.StatusClosed})

	for outcome, want := range map[string]float64{"applied": 1, "conflict": 1, "gone": 1, "invalid": 1} {
		if got := testutil.ToFloat64(reg.Transitions.WithLabelValues(outcome)); got != want {
			t.Errorf("%s: got %v, want %v", outcome, got, want)
		}
	}
}
