package rush

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/store"
)

// Lister is the read side of the order store the monitor needs.
type Lister interface {
	List(ctx context.Context, venueID uuid.UUID, f store.Filter) ([]order.Order, error)
}

// Notifier is told when a venue enters or leaves rush mode.
type Notifier interface {
	PublishRush(ctx context.Context, venueID uuid.UUID, w Window) error
}

// Monitor recomputes rush windows for watched venues on a fixed interval
// instead of on every order event, bounding recomputation cost.
type Monitor struct {
	lister   Lister
	clock    clock.Clock
	cfg      Config
	interval time.Duration
	notifier Notifier
	metrics  *metrics.Registry
	logger   *slog.Logger

	mu     sync.RWMutex
	venues map[uuid.UUID]*venueState
}

type venueState struct {
	detector *Detector
	last     Window
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithNotifier sets who hears about rush changes.
func WithNotifier(n Notifier) MonitorOption {
	return func(m *Monitor) { m.notifier = n }
}

// WithMetrics records velocity and activity gauges.
func WithMetrics(r *metrics.Registry) MonitorOption {
	return func(m *Monitor) { m.metrics = r }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor watching no venues.
func NewMonitor(lister Lister, clk clock.Clock, cfg Config, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		lister:   lister,
		clock:    clk,
		cfg:      NewDetector(cfg).Config(),
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		venues:   make(map[uuid.UUID]*venueState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch starts tracking a venue. Watching twice is harmless.
func (m *Monitor) Watch(venueID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.venues[venueID]; !ok {
		m.venues[venueID] = &venueState{detector: NewDetector(m.cfg)}
	}
}

// Signal returns the last computed window for a venue and starts watching
// it if it was not yet watched.
func (m *Monitor) Signal(venueID uuid.UUID) Window {
	m.mu.RLock()
	st, ok := m.venues[venueID]
	m.mu.RUnlock()
	if !ok {
		m.Watch(venueID)
		return Window{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return st.last
}

// Poll recomputes every watched venue once.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.venues))
	for id := range m.venues {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.pollVenue(ctx, id); err != nil {
			m.logger.WarnContext(ctx, "rush poll failed", "venue_id", id, "error", err)
		}
	}
}

func (m *Monitor) pollVenue(ctx context.Context, venueID uuid.UUID) error {
	now := m.clock.Now()
	orders, err := m.lister.List(ctx, venueID, store.Filter{CreatedSince: now.Add(-m.cfg.Window)})
	if err != nil {
		return err
	}
	timestamps := make([]time.Time, len(orders))
	for i, o := range orders {
		timestamps[i] = o.CreatedAt
	}

	m.mu.Lock()
	st, ok := m.venues[venueID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	w := st.detector.Observe(timestamps, now)
	changed := w.IsActive != st.last.IsActive
	st.last = w
	m.mu.Unlock()

	m.metrics.ObserveRush(venueID.String(), w.Velocity, w.IsActive)
	if changed {
		m.logger.InfoContext(ctx, "rush mode changed", "venue_id", venueID, "active", w.IsActive, "velocity", w.Velocity)
		if m.notifier != nil {
			if err := m.notifier.PublishRush(ctx, venueID, w); err != nil {
				m.logger.WarnContext(ctx, "publish rush change failed", "venue_id", venueID, "error", err)
			}
		}
	}
	return nil
}

// Run polls until ctx is cancelled.
// This should be called as a goroutine: go monitor.Run(ctx)
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}
