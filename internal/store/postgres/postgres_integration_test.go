//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/store"
	"github.com/kiwari-pos/kds/internal/store/postgres"
	"github.com/kiwari-pos/kds/migrations"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("kds_test"),
		tcpostgres.WithUsername("kds"),
		tcpostgres.WithPassword("kds"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// Server and seed both migrate on startup; the second run is a no-op.
	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	return postgres.New(pool, clock.NewSystem())
}

func advanceTo(target order.Status) store.Mutation {
	return func(o *order.Order) error {
		if err := order.ValidateTransition(o.Status, target); err != nil {
			return err
		}
		o.Status = target
		return nil
	}
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	venueID := uuid.New()
	actor := order.Actor{ID: uuid.NewString(), Name: "Alice"}

	created, err := s.Create(ctx, order.Order{
		VenueID:     venueID,
		TableNumber: "12",
		Items: []order.Item{
			{Name: "Grilled chicken", Quantity: 2, UnitPrice: decimal.RequireFromString("9.50")},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != order.StatusNew || created.Version != 0 {
		t.Fatalf("created: got %s/%d", created.Status, created.Version)
	}

	res, err := s.Write(ctx, created.ID, 0, actor, advanceTo(order.StatusPreparing))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !res.Applied || res.Order.Version != 1 || res.Order.UpdatedByName != "Alice" {
		t.Fatalf("write result: %+v", res)
	}

	stale, err := s.Write(ctx, created.ID, 0, actor, advanceTo(order.StatusPreparing))
	if err != nil {
		t.Fatalf("stale write: %v", err)
	}
	if stale.Applied || stale.Order.Version != 1 {
		t.Fatalf("stale write result: %+v", stale)
	}

	if _, err := s.Write(ctx, created.ID, 1, actor, advanceTo(order.StatusServed)); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := s.Read(ctx, created.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Version != 1 || !got.Items[0].UnitPrice.Equal(decimal.RequireFromString("9.50")) {
		t.Errorf("read: %+v", got)
	}

	list, err := s.List(ctx, venueID, store.Filter{Statuses: []order.Status{order.StatusPreparing}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list: got %d, want 1", len(list))
	}

	if _, err := s.Read(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ConcurrentWritersOneWins(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, order.Order{VenueID: uuid.New()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Write(ctx, created.ID, 0, order.Actor{ID: "x"}, advanceTo(order.StatusPreparing))
			if err != nil {
				t.Errorf("write: %v", err)
				return
			}
			if res.Applied {
				atomic.AddInt32(&applied, 1)
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied: got %d, want 1", applied)
	}
}
