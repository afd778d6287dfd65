package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/clock"
)

const (
	defaultMaxEntries    = 10000
	defaultSweepInterval = 30 * time.Second
)

// MemoryManager keeps leases in one mutex-guarded map. Losing it on restart
// is safe.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[uuid.UUID]Lock
	clock clock.Clock

	maxEntries    int
	sweepInterval time.Duration
}

// MemoryOption configures a MemoryManager.
type MemoryOption func(*MemoryManager)

// WithMaxEntries bounds the number of leases held at once.
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryManager) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithSweepInterval overrides how often Run evicts expired leases.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryManager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// NewMemoryManager creates an empty lock table.
func NewMemoryManager(clk clock.Clock, opts ...MemoryOption) *MemoryManager {
	m := &MemoryManager{
		locks:         make(map[uuid.UUID]Lock),
		clock:         clk,
		maxEntries:    defaultMaxEntries,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryManager) Acquire(ctx context.Context, orderID uuid.UUID, h Holder, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if existing, ok := m.locks[orderID]; ok && now.Before(existing.ExpiresAt) {
		if existing.HolderID != h.ID {
			return false, nil
		}
		existing.ExpiresAt = now.Add(ttl)
		existing.HolderName = h.Name
		m.locks[orderID] = existing
		return true, nil
	}

	if _, ok := m.locks[orderID]; !ok && len(m.locks) >= m.maxEntries {
		m.sweepLocked(now)
		if len(m.locks) >= m.maxEntries {
			return false, ErrTableFull
		}
	}

	m.locks[orderID] = Lock{
		OrderID:    orderID,
		HolderID:   h.ID,
		HolderName: h.Name,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

func (m *MemoryManager) Release(ctx context.Context, orderID uuid.UUID, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.locks[orderID]; ok && existing.HolderID == holderID {
		delete(m.locks, orderID)
	}
	return nil
}

func (m *MemoryManager) ReleaseAfter(ctx context.Context, orderID uuid.UUID, holderID string, d time.Duration) error {
	if d <= 0 {
		return m.Release(ctx, orderID, holderID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	existing, ok := m.locks[orderID]
	if !ok || existing.HolderID != holderID || !now.Before(existing.ExpiresAt) {
		return nil
	}
	if deadline := now.Add(d); deadline.Before(existing.ExpiresAt) {
		existing.ExpiresAt = deadline
		m.locks[orderID] = existing
	}
	return nil
}

func (m *MemoryManager) IsLocked(ctx context.Context, orderID uuid.UUID) (Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[orderID]
	if !ok {
		return Lock{}, false, nil
	}
	if !m.clock.Now().Before(existing.ExpiresAt) {
		delete(m.locks, orderID)
		return Lock{}, false, nil
	}
	return existing, true, nil
}

// Len returns the number of entries, live or not yet swept.
func (m *MemoryManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Sweep evicts expired leases and returns how many were removed.
func (m *MemoryManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.clock.Now())
}

func (m *MemoryManager) sweepLocked(now time.Time) int {
	removed := 0
	for id, l := range m.locks {
		if !now.Before(l.ExpiresAt) {
			delete(m.locks, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired leases periodically until ctx is cancelled.
// This should be called as a goroutine: go locks.Run(ctx)
func (m *MemoryManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
